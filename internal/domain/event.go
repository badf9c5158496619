package domain

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// EventKind names a ledger event.
type EventKind string

// Event kinds. Field usage per kind:
//
//	TRANSFER            From -> To, Amount. From zero = mint, To zero = burn.
//	BURN                From = payer, Amount.
//	SWAP                To = swapper, Amount = ledger out, Reserve = reserve in.
//	CLAIM               To = claimer, Amount.
//	PRIZE               To = winner, Amount = ledger payout, Reserve = reserve payout.
//	DONATION            From = donor, Reserve.
//	RESERVE_WITHDRAWAL  To = admin, Reserve.
//	SURPLUS_WITHDRAWAL  To = admin, Amount.
//	TAX                 From = payer, Amount = prize pool share. One per taxed transfer.
//	APPROVAL            From = owner, To = spender, Amount = allowance left.
const (
	EventTransfer          EventKind = "TRANSFER"
	EventBurn              EventKind = "BURN"
	EventSwap              EventKind = "SWAP"
	EventClaim             EventKind = "CLAIM"
	EventPrize             EventKind = "PRIZE"
	EventDonation          EventKind = "DONATION"
	EventReserveWithdrawal EventKind = "RESERVE_WITHDRAWAL"
	EventSurplusWithdrawal EventKind = "SURPLUS_WITHDRAWAL"
	EventTax               EventKind = "TAX"
	EventApproval          EventKind = "APPROVAL"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventTransfer, EventBurn, EventSwap, EventClaim, EventPrize,
		EventDonation, EventReserveWithdrawal, EventSurplusWithdrawal,
		EventTax, EventApproval:
		return true
	}
	return false
}

// Event is a committed ledger event. Seq is gap-free across committed operations.
type Event struct {
	Seq       uint64
	ID        string // sha256 hex of (ledger id, seq, kind)
	Kind      EventKind
	Timestamp int64 // unix milliseconds
	From      Address
	To        Address
	Amount    *uint256.Int // ledger base units
	Reserve   *uint256.Int // reserve-currency base units
}

type eventJSON struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Timestamp int64     `json:"timestamp_ms"`
	From      Address   `json:"from"`
	To        Address   `json:"to"`
	Amount    string    `json:"amount"`
	Reserve   string    `json:"reserve"`
}

// MarshalJSON encodes amounts as decimal strings.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(&eventJSON{
		Seq:       e.Seq,
		ID:        e.ID,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
		From:      e.From,
		To:        e.To,
		Amount:    FormatAmount(e.Amount),
		Reserve:   FormatAmount(e.Reserve),
	})
}

// UnmarshalJSON decodes the MarshalJSON form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var aux eventJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	amount, err := ParseAmount(aux.Amount)
	if err != nil {
		return err
	}
	reserve, err := ParseAmount(aux.Reserve)
	if err != nil {
		return err
	}
	*e = Event{
		Seq:       aux.Seq,
		ID:        aux.ID,
		Kind:      aux.Kind,
		Timestamp: aux.Timestamp,
		From:      aux.From,
		To:        aux.To,
		Amount:    amount,
		Reserve:   reserve,
	}
	return nil
}

// LedgerAmount returns Amount or zero.
func (e *Event) LedgerAmount() *uint256.Int {
	return orZero(e.Amount)
}

// ReserveAmount returns Reserve or zero.
func (e *Event) ReserveAmount() *uint256.Int {
	return orZero(e.Reserve)
}

// Involves reports whether account appears as From or To.
func (e *Event) Involves(account Address) bool {
	return e.From == account || e.To == account
}
