// Package main replays the persisted event log of a ledger and verifies it
// against the latest snapshot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/logger"
	"prize-ledger/internal/replay"
	"prize-ledger/internal/storage/postgres"
	"prize-ledger/internal/verification"
)

// errMismatch is returned when verification finds a divergence.
var errMismatch = errors.New("snapshot does not match the event log")

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

	ledgerID := flag.String("ledger-id", envOr("LEDGER_ID", "main"), "ledger id to replay")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (required)")
	preset := flag.String("preset", envOr("LEDGER_PRESET", ledger.PresetClassic), "configuration preset the ledger runs with")
	from := flag.Uint64("from", 0, "first seq to print (with --print)")
	to := flag.Uint64("to", 0, "last seq to print (with --print, 0 = last recorded)")
	printEvents := flag.Bool("print", false, "print events instead of verifying")
	outputJSON := flag.Bool("json", false, "output as JSON")
	verbose := flag.Bool("verbose", false, "enable verbose (debug) logging")
	flag.Parse()

	log := logger.NewWriter(os.Stderr, *verbose, false)

	if *postgresDSN == "" {
		return errors.New("--postgres-dsn is required")
	}
	cfg, err := ledger.PresetConfig(*preset)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, *postgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	events := postgres.NewEventStore(pool)

	if *printEvents {
		engine := NewLoggingEngine(*ledgerID, os.Stdout, *outputJSON)
		runner := replay.NewRunner(events)
		if *to == 0 {
			if *to, err = events.LastSeq(ctx, *ledgerID); err != nil {
				return err
			}
		}
		log.Info("replaying events", "ledger_id", *ledgerID, "from", *from, "to", *to)
		if err := runner.Run(ctx, *ledgerID, *from, *to, engine); err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		return printStats(os.Stdout, engine.Stats(), *outputJSON)
	}

	alloc := cfg.Allocate()
	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		EventStore:    events,
		SnapshotStore: postgres.NewSnapshotStore(pool),
		Limits: verification.Limits{
			InitialSupply: cfg.TotalSupply,
			SwapPoolLimit: alloc.SwapPoolLimit,
		},
	})
	log.Info("verifying latest snapshot", "ledger_id", *ledgerID, "preset", cfg.Name)
	result, err := verifier.VerifyLatest(ctx, *ledgerID)
	if err != nil {
		return err
	}
	if err := printResult(os.Stdout, result, *outputJSON); err != nil {
		return err
	}
	if !result.Match {
		return errMismatch
	}
	return nil
}

type resultJSON struct {
	LedgerID    string                         `json:"ledger_id"`
	Seq         uint64                         `json:"seq"`
	Events      uint64                         `json:"events"`
	Match       bool                           `json:"match"`
	Divergences []verification.FieldDivergence `json:"divergences"`
	Invariant   string                         `json:"invariant,omitempty"`
}

func printResult(w io.Writer, r *verification.VerificationResult, asJSON bool) error {
	if asJSON {
		out := resultJSON{
			LedgerID:    r.LedgerID,
			Seq:         r.Seq,
			Events:      r.Events,
			Match:       r.Match,
			Divergences: r.Divergences,
		}
		if r.Invariant != nil {
			out.Invariant = r.Invariant.Error()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "\n=== Verification ===\n")
	fmt.Fprintf(w, "Ledger ID:   %s\n", r.LedgerID)
	fmt.Fprintf(w, "Snapshot at: seq %d\n", r.Seq)
	fmt.Fprintf(w, "Replayed:    %d events\n", r.Events)
	if r.Match {
		fmt.Fprintf(w, "Result:      OK\n")
		return nil
	}
	fmt.Fprintf(w, "Result:      MISMATCH\n")
	for _, d := range r.Divergences {
		fmt.Fprintf(w, "  %-28s snapshot=%s replay=%s\n", d.Field, d.Expected, d.Actual)
	}
	if r.Invariant != nil {
		fmt.Fprintf(w, "  invariants: %v\n", r.Invariant)
	}
	return nil
}

func printStats(w io.Writer, stats ReplayStats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	fmt.Fprintf(w, "\n=== Replay Summary ===\n")
	fmt.Fprintf(w, "Ledger ID:         %s\n", stats.LedgerID)
	fmt.Fprintf(w, "Total Events:      %d\n", stats.TotalEvents)
	for _, kind := range sortedKinds(stats.ByKind) {
		fmt.Fprintf(w, "  %-20s %d\n", kind, stats.ByKind[kind])
	}
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "First Event Time:  %s\n", time.UnixMilli(stats.FirstEventTime).UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Last Event Time:   %s\n", time.UnixMilli(stats.LastEventTime).UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "First Event Time:  N/A\n")
		fmt.Fprintf(w, "Last Event Time:   N/A\n")
	}
	return nil
}

// LoggingEngine implements replay.ReplayEngine and prints events.
type LoggingEngine struct {
	out        io.Writer
	outputJSON bool
	stats      ReplayStats
}

// ReplayStats holds replay statistics.
type ReplayStats struct {
	LedgerID       string                   `json:"ledger_id"`
	TotalEvents    int                      `json:"total_events"`
	ByKind         map[domain.EventKind]int `json:"by_kind"`
	FirstEventTime int64                    `json:"first_event_time"`
	LastEventTime  int64                    `json:"last_event_time"`
}

// NewLoggingEngine creates a new logging engine.
func NewLoggingEngine(ledgerID string, out io.Writer, outputJSON bool) *LoggingEngine {
	return &LoggingEngine{
		out:        out,
		outputJSON: outputJSON,
		stats: ReplayStats{
			LedgerID: ledgerID,
			ByKind:   make(map[domain.EventKind]int),
		},
	}
}

// OnEvent processes an event.
func (e *LoggingEngine) OnEvent(_ context.Context, event *domain.Event) error {
	e.stats.TotalEvents++
	e.stats.ByKind[event.Kind]++

	if e.stats.FirstEventTime == 0 || event.Timestamp < e.stats.FirstEventTime {
		e.stats.FirstEventTime = event.Timestamp
	}
	if event.Timestamp > e.stats.LastEventTime {
		e.stats.LastEventTime = event.Timestamp
	}

	// Log event if not in JSON mode
	if !e.outputJSON {
		fmt.Fprintf(e.out, "[%s] seq=%d kind=%s from=%s to=%s amount=%s reserve=%s\n",
			time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339Nano),
			event.Seq,
			event.Kind,
			event.From,
			event.To,
			domain.FormatAmount(event.Amount),
			domain.FormatAmount(event.Reserve),
		)
	}
	return nil
}

// Stats returns replay statistics.
func (e *LoggingEngine) Stats() ReplayStats {
	return e.stats
}

// Ensure LoggingEngine implements replay.ReplayEngine
var _ replay.ReplayEngine = (*LoggingEngine)(nil)

func sortedKinds(m map[domain.EventKind]int) []domain.EventKind {
	kinds := make([]domain.EventKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
