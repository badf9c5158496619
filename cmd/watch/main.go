// Package main subscribes to a ledger service's /events stream and prints
// committed events as they arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/logger"
	"prize-ledger/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	endpoint := flag.String("endpoint", envOr("STREAM_ENDPOINT", "ws://localhost:8080/events"), "websocket endpoint of the ledger service")
	since := flag.Uint64("since", 0, "print events after this seq (0 = live only, plus the server's backlog)")
	kinds := flag.StringSlice("kind", nil, "only print these event kinds, repeatable")
	account := flag.String("account", "", "only print events involving this account (base58)")
	outputJSON := flag.Bool("json", false, "print events as JSON lines")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	flag.Parse()

	log := logger.NewWriter(os.Stderr, *verbose, false)

	f, err := newFilter(*kinds, *account)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := stream.DefaultClientConfig()
	cfg.Logger = log
	cfg.OnGap = func(g stream.Gap) {
		fmt.Fprintf(os.Stderr, "warning: %d events after #%d are no longer retained by the server, resuming at #%d\n",
			g.Missed(), g.After, g.Next)
	}
	client, err := stream.Dial(ctx, *endpoint, *since, &cfg)
	if err != nil {
		return err
	}
	log.Info("watching", "endpoint", *endpoint, "since", *since)

	go func() {
		<-ctx.Done()
		_ = client.Close()
	}()

	for e := range client.Events() {
		if !f.match(&e) {
			continue
		}
		if err := printEvent(os.Stdout, &e, *outputJSON); err != nil {
			return err
		}
	}
	log.Info("stopped", "last_seq", client.LastSeq(), "reconnects", client.Reconnects(), "missed", client.Missed())
	return nil
}

type filter struct {
	kinds   map[domain.EventKind]bool
	account domain.Address
	byAcct  bool
}

func newFilter(kinds []string, account string) (*filter, error) {
	f := &filter{kinds: make(map[domain.EventKind]bool, len(kinds))}
	for _, k := range kinds {
		kind := domain.EventKind(k)
		if !kind.IsValid() {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		f.kinds[kind] = true
	}
	if account != "" {
		a, err := domain.ParseAddress(account)
		if err != nil {
			return nil, fmt.Errorf("--account: %w", err)
		}
		f.account = a
		f.byAcct = true
	}
	return f, nil
}

func (f *filter) match(e *domain.Event) bool {
	if len(f.kinds) > 0 && !f.kinds[e.Kind] {
		return false
	}
	if f.byAcct && !e.Involves(f.account) {
		return false
	}
	return true
}

func printEvent(w io.Writer, e *domain.Event, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(e)
	}
	ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
	var err error
	switch e.Kind {
	case domain.EventTransfer:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s -> %s %s\n", ts, e.Seq, e.Kind, e.From, e.To, domain.FormatAmount(e.Amount))
	case domain.EventSwap, domain.EventPrize:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s amount=%s reserve=%s\n", ts, e.Seq, e.Kind, e.To,
			domain.FormatAmount(e.Amount), domain.FormatAmount(e.Reserve))
	case domain.EventDonation:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s reserve=%s\n", ts, e.Seq, e.Kind, e.From, domain.FormatAmount(e.Reserve))
	case domain.EventReserveWithdrawal:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s reserve=%s\n", ts, e.Seq, e.Kind, e.To, domain.FormatAmount(e.Reserve))
	case domain.EventBurn, domain.EventTax:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s amount=%s\n", ts, e.Seq, e.Kind, e.From, domain.FormatAmount(e.Amount))
	case domain.EventApproval:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s -> %s allowance=%s\n", ts, e.Seq, e.Kind, e.From, e.To, domain.FormatAmount(e.Amount))
	default:
		_, err = fmt.Fprintf(w, "%s #%d %-18s %s amount=%s\n", ts, e.Seq, e.Kind, e.To, domain.FormatAmount(e.Amount))
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
