package ledger

import "errors"

// Validation failures: rejected before any mutation.
var (
	ErrZeroAmount       = errors.New("amount must be positive")
	ErrInvalidAccount   = errors.New("invalid account")
	ErrSystemAccount    = errors.New("system account cannot initiate transfers")
	ErrSwapBelowMinimum = errors.New("swap amount below minimum")
	ErrSwapAboveMaximum = errors.New("swap amount above maximum")
	ErrBatchEmpty       = errors.New("batch has no recipients")
	ErrBatchLength      = errors.New("recipients and amounts length mismatch")
	ErrBatchTooLarge    = errors.New("batch exceeds maximum size")
	ErrAmountOverflow   = errors.New("amount overflows 256 bits")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
)

// Insufficiency failures: rejected before any mutation.
var (
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientAllowance     = errors.New("insufficient allowance")
	ErrInsufficientSystemBalance = errors.New("insufficient system balance")
	ErrSwapPoolExhausted         = errors.New("swap pool limit reached")
	ErrInsufficientReserve       = errors.New("insufficient reserve balance")
	ErrSurplusExceeded           = errors.New("amount exceeds withdrawable surplus")
)

// External-call failures: the whole enclosing operation is rolled back.
var (
	ErrPayoutFailed     = errors.New("reserve prize payout failed")
	ErrWithdrawalFailed = errors.New("reserve withdrawal send failed")
)

// Policy failures.
var (
	ErrClaimDisabled    = errors.New("claim is not enabled")
	ErrAlreadyClaimed   = errors.New("account has already claimed")
	ErrAirdropExhausted = errors.New("airdrop allocation exhausted")
	ErrNotAdmin         = errors.New("caller is not an administrator")
)

// ErrReentrantCall is returned when a mutating call arrives through the context
// of an in-flight external send.
var ErrReentrantCall = errors.New("reentrant call rejected")

// Kind classifies ledger errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInsufficiency
	KindExternal
	KindPolicy
	KindReentrancy
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficiency:
		return "insufficiency"
	case KindExternal:
		return "external"
	case KindPolicy:
		return "policy"
	case KindReentrancy:
		return "reentrancy"
	}
	return "unknown"
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	// External first: a failed send may wrap a collaborator error that itself
	// matches another class.
	{KindExternal, []error{ErrPayoutFailed, ErrWithdrawalFailed}},
	{KindReentrancy, []error{ErrReentrantCall}},
	{KindValidation, []error{
		ErrZeroAmount, ErrInvalidAccount, ErrSystemAccount, ErrSwapBelowMinimum,
		ErrSwapAboveMaximum, ErrBatchEmpty, ErrBatchLength, ErrBatchTooLarge,
		ErrAmountOverflow, ErrInvalidSnapshot,
	}},
	{KindInsufficiency, []error{
		ErrInsufficientBalance, ErrInsufficientAllowance, ErrInsufficientSystemBalance,
		ErrSwapPoolExhausted, ErrInsufficientReserve, ErrSurplusExceeded,
	}},
	{KindPolicy, []error{ErrClaimDisabled, ErrAlreadyClaimed, ErrAirdropExhausted, ErrNotAdmin}},
}

// KindOf classifies err. Errors not produced by the ledger are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}
