package api

import (
	"time"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
)

// Amounts travel as decimal strings: 18-decimal values do not fit a JSON number.

type transferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type transferFromRequest struct {
	Spender   string `json:"spender"`
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type batchTransferRequest struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type swapRequest struct {
	Sender    string `json:"sender"`
	ReserveIn string `json:"reserve_in"`
}

type accountRequest struct {
	Account string `json:"account"`
}

type valueRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type awardResponse struct {
	Winner  domain.Address `json:"winner"`
	Tokens  string         `json:"tokens"`
	Reserve string         `json:"reserve"`
}

func newAwardResponse(a *ledger.Award) *awardResponse {
	if a == nil {
		return nil
	}
	return &awardResponse{
		Winner:  a.Winner,
		Tokens:  domain.FormatAmount(a.Tokens),
		Reserve: domain.FormatAmount(a.Reserve),
	}
}

type transferResponse struct {
	Net    string         `json:"net"`
	Burned string         `json:"burned"`
	Pooled string         `json:"pooled"`
	Award  *awardResponse `json:"award,omitempty"`
}

type batchTransferResponse struct {
	Gross  string         `json:"gross"`
	Net    string         `json:"net"`
	Burned string         `json:"burned"`
	Pooled string         `json:"pooled"`
	Shares []string       `json:"shares"`
	Dust   string         `json:"dust"`
	Award  *awardResponse `json:"award,omitempty"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type statsResponse struct {
	TotalSupply    string `json:"total_supply"`
	InitialSupply  string `json:"initial_supply"`
	TotalSwapped   string `json:"total_swapped"`
	SwapPoolLimit  string `json:"swap_pool_limit"`
	TokenPrizePool string `json:"token_prize_pool"`
	TotalBurned    string `json:"total_burned"`
	CurrentRate    string `json:"current_rate"`
	Reserve        string `json:"reserve"`
	SystemBalance  string `json:"system_balance"`
	TotalTransfers uint64 `json:"total_transfers"`
}

func newStatsResponse(s domain.Stats) statsResponse {
	return statsResponse{
		TotalSupply:    domain.FormatAmount(s.TotalSupply),
		InitialSupply:  domain.FormatAmount(s.InitialSupply),
		TotalSwapped:   domain.FormatAmount(s.TotalSwapped),
		SwapPoolLimit:  domain.FormatAmount(s.SwapPoolLimit),
		TokenPrizePool: domain.FormatAmount(s.TokenPrizePool),
		TotalBurned:    domain.FormatAmount(s.TotalBurned),
		CurrentRate:    domain.FormatAmount(s.CurrentRate),
		Reserve:        domain.FormatAmount(s.Reserve),
		SystemBalance:  domain.FormatAmount(s.SystemBalance),
		TotalTransfers: s.TotalTransfers,
	}
}

type prizeResponse struct {
	TokenPrizePool      string     `json:"token_prize_pool"`
	ReservePool         string     `json:"reserve_pool"`
	LastPrizeTime       *time.Time `json:"last_prize_time,omitempty"`
	SinceLastPrizeSecs  int64      `json:"since_last_prize_secs"`
	Armed               bool       `json:"armed"`
	CooldownRemainingMs int64      `json:"cooldown_remaining_ms"`
}

func newPrizeResponse(p domain.PrizeInfo) prizeResponse {
	resp := prizeResponse{
		TokenPrizePool:      domain.FormatAmount(p.TokenPrizePool),
		ReservePool:         domain.FormatAmount(p.ReservePool),
		SinceLastPrizeSecs:  int64(p.SinceLastPrize / time.Second),
		Armed:               p.Armed,
		CooldownRemainingMs: p.CooldownRemaining.Milliseconds(),
	}
	if !p.LastPrizeTime.IsZero() {
		t := p.LastPrizeTime.UTC()
		resp.LastPrizeTime = &t
	}
	return resp
}

type taxResponse struct {
	RateNumerator   uint64 `json:"rate_numerator"`
	RateDenominator uint64 `json:"rate_denominator"`
	BurnNumerator   uint64 `json:"burn_numerator"`
	BurnDenominator uint64 `json:"burn_denominator"`
}

type accountResponse struct {
	Account domain.Address `json:"account"`
	Balance string         `json:"balance"`
	Native  string         `json:"native"`
	Claimed bool           `json:"claimed"`
	Admin   bool           `json:"admin"`
}

type allowanceResponse struct {
	Owner     domain.Address `json:"owner"`
	Spender   domain.Address `json:"spender"`
	Allowance string         `json:"allowance"`
}

type dailyVolumeResponse struct {
	Day     string           `json:"day"`
	Kind    domain.EventKind `json:"kind"`
	Events  uint64           `json:"events"`
	Amount  string           `json:"amount"`
	Reserve string           `json:"reserve"`
}

func newDailyVolumeResponse(rows []domain.DailyVolume) []dailyVolumeResponse {
	out := make([]dailyVolumeResponse, 0, len(rows))
	for _, v := range rows {
		out = append(out, dailyVolumeResponse{
			Day:     time.UnixMilli(v.DayStartMs).UTC().Format(time.DateOnly),
			Kind:    v.Kind,
			Events:  v.Events,
			Amount:  domain.FormatAmount(v.Amount),
			Reserve: domain.FormatAmount(v.Reserve),
		})
	}
	return out
}

func formatAll(xs []*uint256.Int) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = domain.FormatAmount(x)
	}
	return out
}
