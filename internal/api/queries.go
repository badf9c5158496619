package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"prize-ledger/internal/domain"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	maxVolumeRange    = 366 * 24 * time.Hour
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, newStatsResponse(s.opts.Ledger.Stats(r.Context())))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: s.opts.Ledger.CurrentRate(r.Context()).Dec()})
}

func (s *Server) handleCapacity(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: s.opts.Ledger.RemainingSwapCapacity(r.Context()).Dec()})
}

func (s *Server) handlePrize(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, newPrizeResponse(s.opts.Ledger.PrizeInfo(r.Context())))
}

func (s *Server) handleTax(w http.ResponseWriter, _ *http.Request) {
	t := s.opts.Ledger.TaxInfo()
	s.writeJSON(w, http.StatusOK, taxResponse{
		RateNumerator:   t.RateNumerator,
		RateDenominator: t.RateDenominator,
		BurnNumerator:   t.BurnNumerator,
		BurnDenominator: t.BurnDenominator,
	})
}

func (s *Server) handleWithdrawable(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: s.opts.Ledger.Withdrawable(r.Context()).Dec()})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Ledger.Snapshot(r.Context()))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	ctx := r.Context()
	s.writeJSON(w, http.StatusOK, accountResponse{
		Account: account,
		Balance: s.opts.Ledger.BalanceOf(ctx, account).Dec(),
		Native:  s.opts.Channel.BalanceOf(account).Dec(),
		Claimed: s.opts.Ledger.HasClaimed(ctx, account),
		Admin:   s.opts.Book.IsAdmin(account),
	})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", chi.URLParam(r, "spender"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner,
		Spender:   spender,
		Allowance: s.opts.Ledger.Allowance(r.Context(), owner, spender).Dec(),
	})
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		s.writeError(w, http.StatusNotImplemented, "event history is not configured")
		return
	}
	account, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	events, err := s.opts.Events.GetByAccount(r.Context(), s.opts.Ledger.ID(), account, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(events))
}

// handleEvents lists events by kind, or by seq range when from/to are given.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		s.writeError(w, http.StatusNotImplemented, "event history is not configured")
		return
	}
	q := r.URL.Query()
	ledgerID := s.opts.Ledger.ID()

	if kind := domain.EventKind(q.Get("kind")); kind != "" {
		if !kind.IsValid() {
			s.writeError(w, http.StatusBadRequest, "unknown event kind "+kind.String())
			return
		}
		events, err := s.opts.Events.GetByKind(r.Context(), ledgerID, kind)
		if err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nonNil(events))
		return
	}

	from, err := parseSeq(q.Get("from"), 1)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	to, err := parseSeq(q.Get("to"), from+defaultEventLimit-1)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if to < from || to-from >= maxEventLimit {
		s.writeError(w, http.StatusBadRequest, "seq range must be non-empty and at most 1000 events")
		return
	}
	events, err := s.opts.Events.GetBySeqRange(r.Context(), ledgerID, from, to)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(events))
}

// handleDailyVolume returns the per-day rollup between start and end
// (YYYY-MM-DD, inclusive). It defaults to the last 30 days.
func (s *Server) handleDailyVolume(w http.ResponseWriter, r *http.Request) {
	if s.opts.Analytics == nil {
		s.writeError(w, http.StatusNotImplemented, "analytics store is not configured")
		return
	}
	q := r.URL.Query()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	start, err := parseDay(q.Get("start"), today.AddDate(0, 0, -29))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	end, err := parseDay(q.Get("end"), today)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if end.Before(start) || end.Sub(start) > maxVolumeRange {
		s.writeError(w, http.StatusBadRequest, "day range must be non-empty and at most one year")
		return
	}

	endMs := end.Add(24*time.Hour).UnixMilli() - 1
	rows, err := s.opts.Analytics.DailyVolume(r.Context(), s.opts.Ledger.ID(), start.UnixMilli(), endMs)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDailyVolumeResponse(rows))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultEventLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badRequest("limit: must be a positive integer")
	}
	return min(n, maxEventLimit), nil
}

func parseSeq(raw string, def uint64) (uint64, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, badRequest("seq %q: must be a positive integer", raw)
	}
	return n, nil
}

func parseDay(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, badRequest("day %q: %w", raw, err)
	}
	return t, nil
}

func nonNil(events []domain.Event) []domain.Event {
	if events == nil {
		return []domain.Event{}
	}
	return events
}
