package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/observability"
)

// Award is a lottery payout.
type Award struct {
	Winner  domain.Address
	Tokens  *uint256.Int // ledger units taken from the prize pool
	Reserve *uint256.Int // reserve currency sent to the winner
}

// armed reports whether the cooldown since the last prize has elapsed.
func (l *Ledger) armed(now time.Time) bool {
	last := l.st.lastPrizeTime
	return last.IsZero() || now.Sub(last) >= l.cfg.Cooldown
}

// maybeAward draws for recipient and pays out on a win. An empty pool, an
// unexpired cooldown or the system account as recipient is a silent no-award.
func (l *Ledger) maybeAward(tx *txn, recipient domain.Address) (*Award, error) {
	st := &l.st
	if recipient == l.system || st.tokenPrizePool.IsZero() || !l.armed(tx.now) {
		return nil, nil
	}

	r := l.entropy.Draw(DrawInput{
		Time:          tx.now,
		BlockSeed:     st.blockSeed,
		Recipient:     recipient,
		TransferCount: st.totalTransfers,
	})
	if r == nil || !new(uint256.Int).Mod(r, uint256.NewInt(l.cfg.LotteryOdds)).IsZero() {
		return nil, nil
	}

	sp := tx.savepoint()
	award, err := l.award(tx, recipient)
	if err == nil {
		l.log.Info("prize awarded",
			"winner", recipient.String(),
			"tokens", award.Tokens.Dec(),
			"reserve", award.Reserve.Dec())
		return award, nil
	}
	if errors.Is(err, ErrPayoutFailed) {
		observability.RecordPayoutFailure()
		if l.cfg.PayoutPolicy == PayoutSkipAward {
			tx.rollbackTo(sp)
			l.log.Warn("prize payout failed, award skipped", "winner", recipient.String(), "error", err)
			return nil, nil
		}
	}
	return nil, err
}

// award finalizes every state change before the reserve send.
func (l *Ledger) award(tx *txn, winner domain.Address) (*Award, error) {
	st := &l.st

	tokens := l.cfg.WinShare.Of(&st.tokenPrizePool)
	if tokens.Gt(&st.tokenPrizePool) {
		tokens.Set(&st.tokenPrizePool)
	}
	if sys := l.store.BalanceOf(l.system); tokens.Gt(sys) {
		tokens.Set(sys)
	}
	reserve := l.cfg.WinShare.Of(&st.reserve)
	if reserve.Gt(&st.reserve) {
		reserve.Set(&st.reserve)
	}

	tx.sub(&st.tokenPrizePool, tokens)
	if err := tx.move(l.system, winner, tokens); err != nil {
		return nil, err
	}
	tx.sub(&st.reserve, reserve)
	tx.setLastPrize(tx.now)
	tx.emit(domain.Event{Kind: domain.EventPrize, To: winner, Amount: tokens.Clone(), Reserve: reserve.Clone()})

	if !reserve.IsZero() {
		if err := l.send(tx, winner, reserve); err != nil {
			return nil, fmt.Errorf("%w: %s to %s: %w", ErrPayoutFailed, reserve.Dec(), winner, err)
		}
	}
	return &Award{Winner: winner, Tokens: tokens, Reserve: reserve}, nil
}
