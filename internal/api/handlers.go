package api

import (
	"context"
	"net/http"

	"github.com/holiman/uint256"

	"prize-ledger/internal/domain"
)

func parseAmount(field, s string) (*uint256.Int, error) {
	x, err := domain.ParseAmount(s)
	if err != nil {
		return nil, badRequest("%s: %w", field, err)
	}
	return x, nil
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	sender, err := parseAddress("sender", req.Sender)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	res, err := s.opts.Ledger.Transfer(r.Context(), sender, recipient, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transferResponse{
		Net:    res.Net.Dec(),
		Burned: res.Burned.Dec(),
		Pooled: res.Pooled.Dec(),
		Award:  newAwardResponse(res.Award),
	})
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var req transferFromRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	res, err := s.opts.Ledger.TransferFrom(r.Context(), spender, owner, recipient, amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transferResponse{
		Net:    res.Net.Dec(),
		Burned: res.Burned.Dec(),
		Pooled: res.Pooled.Dec(),
		Award:  newAwardResponse(res.Award),
	})
}

func (s *Server) handleBatchTransfer(w http.ResponseWriter, r *http.Request) {
	var req batchTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	sender, err := parseAddress("sender", req.Sender)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	// Length and size checks belong to the ledger; only the encoding is checked here.
	recipients := make([]domain.Address, len(req.Recipients))
	for i, raw := range req.Recipients {
		if recipients[i], err = parseAddress("recipients", raw); err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
	}
	amounts := make([]*uint256.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		if amounts[i], err = parseAmount("amounts", raw); err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
	}

	res, err := s.opts.Ledger.BatchTransfer(r.Context(), sender, recipients, amounts)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batchTransferResponse{
		Gross:  res.Gross.Dec(),
		Net:    res.Net.Dec(),
		Burned: res.Burned.Dec(),
		Pooled: res.Pooled.Dec(),
		Shares: formatAll(res.Shares),
		Dust:   res.Dust.Dec(),
		Award:  newAwardResponse(res.Award),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if err := s.opts.Ledger.Approve(r.Context(), owner, spender, amount); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, allowanceResponse{
		Owner:     owner,
		Spender:   spender,
		Allowance: s.opts.Ledger.Allowance(r.Context(), owner, spender).Dec(),
	})
}

// handleSwap debits the sender's native balance and swaps it. The payment is
// refunded when the swap is rejected.
func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	sender, err := parseAddress("sender", req.Sender)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	reserveIn, err := parseAmount("reserve_in", req.ReserveIn)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}

	var out *uint256.Int
	err = s.opts.Channel.Pay(r.Context(), sender, reserveIn, func(ctx context.Context) error {
		var err error
		out, err = s.opts.Ledger.Swap(ctx, sender, reserveIn)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: out.Dec()})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out, err := s.opts.Ledger.Claim(r.Context(), account)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: out.Dec()})
}

func (s *Server) handleDonate(w http.ResponseWriter, r *http.Request) {
	s.handleDeposit(w, r, s.opts.Ledger.Donate)
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	s.handleDeposit(w, r, s.opts.Ledger.Receive)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request,
	deposit func(context.Context, domain.Address, *uint256.Int) error,
) {
	var req valueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	from, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	err = s.opts.Channel.Pay(r.Context(), from, amount, func(ctx context.Context) error {
		return deposit(ctx, from, amount)
	})
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: amount.Dec()})
}

func (s *Server) handleWithdrawReserve(w http.ResponseWriter, r *http.Request) {
	s.handleWithdraw(w, r, s.opts.Ledger.WithdrawReserve)
}

func (s *Server) handleWithdrawSurplus(w http.ResponseWriter, r *http.Request) {
	s.handleWithdraw(w, r, s.opts.Ledger.WithdrawLedgerSurplus)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request,
	withdraw func(context.Context, domain.Address, *uint256.Int) error,
) {
	var req valueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	caller, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	if err := withdraw(r.Context(), caller, amount); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	s.log.Info("withdrawal", "path", r.URL.Path, "caller", caller.String(), "amount", amount.Dec())
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: amount.Dec()})
}
