// Package main runs the prize ledger service:
// - HTTP API for every ledger operation and query
// - /events websocket stream of committed events
// - /metrics for Prometheus
// - event recording to PostgreSQL (or memory) and ClickHouse analytics
// - periodic snapshots, restored on startup
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"prize-ledger/internal/api"
	"prize-ledger/internal/authz"
	"prize-ledger/internal/domain"
	"prize-ledger/internal/ledger"
	"prize-ledger/internal/logger"
	"prize-ledger/internal/native"
	"prize-ledger/internal/observability"
	"prize-ledger/internal/recorder"
	"prize-ledger/internal/replay"
	"prize-ledger/internal/storage"
	"prize-ledger/internal/storage/clickhouse"
	"prize-ledger/internal/storage/memory"
	"prize-ledger/internal/storage/migrations"
	"prize-ledger/internal/storage/postgres"
	"prize-ledger/internal/stream"
)

const (
	eventsTarget    = "events"
	analyticsTarget = "analytics"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	// Parse flags (env vars as defaults)
	verbose := flag.Bool("verbose", os.Getenv("VERBOSE") == "true", "enable verbose (debug) logging")
	addr := flag.String("addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	ledgerID := flag.String("ledger-id", envOr("LEDGER_ID", "main"), "ledger id; derives the system account")
	preset := flag.String("preset", envOr("LEDGER_PRESET", ledger.PresetClassic), "configuration preset (classic, deflationary, airdrop)")
	payoutPolicy := flag.String("payout-policy", envOr("PAYOUT_POLICY", ledger.PayoutAbortTransfer.String()), "failed prize payout policy (abort-transfer, skip-award)")
	rateStrategy := flag.String("rate-strategy", os.Getenv("RATE_STRATEGY"), "override the preset swap rate strategy (fixed, dynamic)")
	entropy := flag.String("entropy", envOr("ENTROPY", "block"), "lottery entropy source (block, crypto)")
	deployer := flag.String("deployer", os.Getenv("DEPLOYER"), "deployer account (base58), required for a new ledger")
	marketing := flag.String("marketing", os.Getenv("MARKETING"), "marketing account (base58), required unless the preset enables claims")
	admins := flag.StringSlice("admin", nil, "administrator accounts (base58), repeatable")
	funds := flag.StringSlice("fund", nil, "simulated native balance as account=amount, repeatable")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (empty = in-memory storage)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (empty = no analytics mirror)")
	snapshotInterval := flag.Duration("snapshot-interval", 5*time.Minute, "interval between snapshots")
	rateLimit := flag.Float64("rate-limit", 20, "API requests per second per client IP (0 = unlimited)")
	rateBurst := flag.Int("rate-burst", 40, "API request burst per client IP")
	flag.Parse()

	log := logger.New(*verbose)

	cfg, err := ledger.PresetConfig(*preset)
	if err != nil {
		return err
	}
	if cfg.PayoutPolicy, err = ledger.ParsePayoutPolicy(*payoutPolicy); err != nil {
		return err
	}
	if *rateStrategy != "" {
		if cfg.RateStrategy, err = ledger.ParseRateStrategy(*rateStrategy); err != nil {
			return err
		}
	}
	source, err := parseEntropy(*entropy)
	if err != nil {
		return err
	}
	adminAddrs, err := parseAddresses(*admins)
	if err != nil {
		return fmt.Errorf("--admin: %w", err)
	}
	if len(adminAddrs) == 0 {
		log.Warn("no administrators configured; treasury withdrawals are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, *postgresDSN, *clickhouseDSN, log)
	if err != nil {
		return err
	}
	defer stores.close()

	hub := stream.NewHub(stream.HubOptions{Logger: log})
	targets := []recorder.Target{{Name: eventsTarget, Writer: stores.events}}
	if stores.analytics != nil {
		targets = append(targets, recorder.Target{Name: analyticsTarget, Writer: stores.analytics, Lossy: true})
	}
	rec, err := recorder.New(recorder.Options{
		LedgerID:    *ledgerID,
		Targets:     targets,
		Checkpoints: stores.checkpoints,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	book := authz.NewBook(adminAddrs...)
	channel := native.NewChannel()
	if err := fundAccounts(channel, *funds); err != nil {
		return fmt.Errorf("--fund: %w", err)
	}

	opts := ledger.Options{
		LedgerID:   *ledgerID,
		Authorizer: book,
		Value:      channel,
		Entropy:    source,
		Sinks:      []ledger.EventSink{rec, hub},
		Logger:     log,
	}
	if opts.Deployer, err = optionalAddress(*deployer); err != nil {
		return fmt.Errorf("--deployer: %w", err)
	}
	if opts.Marketing, err = optionalAddress(*marketing); err != nil {
		return fmt.Errorf("--marketing: %w", err)
	}
	l, err := openLedger(ctx, cfg, opts, stores.snapshots, stores.events)
	if err != nil {
		return err
	}

	if stores.analytics != nil {
		n, err := rec.Backfill(ctx, stores.events, analyticsTarget)
		if err != nil {
			log.Warn("analytics backfill failed", "error", err)
		} else if n > 0 {
			log.Info("analytics backfilled", "events", n)
		}
	}

	var limiter *api.RateLimiter
	if *rateLimit > 0 {
		limiter = api.NewRateLimiter(rate.Limit(*rateLimit), *rateBurst, nil)
	}
	apiServer, err := api.New(api.Options{
		Ledger:    l,
		Book:      book,
		Channel:   channel,
		Events:    stores.events,
		Analytics: stores.analyticsReader(),
		Stream:    hub,
		Limiter:   limiter,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	httpServer := apiServer.NewHTTPServer(*addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting HTTP server", "addr", *addr, "ledger_id", l.ID(), "system", l.SystemAddress().String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server")
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return rec.Run(gctx)
	})
	if limiter != nil {
		g.Go(func() error {
			return limiter.Run(gctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(*snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := saveSnapshot(gctx, l, rec, stores.snapshots); err != nil {
					log.Error("snapshot failed", "error", err)
				}
			}
		}
	})

	err = g.Wait()

	// The recorder flushed on its way out; the final snapshot covers the
	// events it wrote.
	finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := saveSnapshot(finalCtx, l, rec, stores.snapshots); serr != nil {
		log.Error("final snapshot failed", "error", serr)
		err = errors.Join(err, serr)
	}

	if err != nil {
		return err
	}
	log.Info("shutdown complete", "seq", l.LastSeq(context.Background()))
	return nil
}

// openLedger restores the latest snapshot of opts.LedgerID or creates a new
// ledger when nothing was recorded. Events the snapshot does not cover are
// folded onto it first; without a snapshot the whole log is folded onto the
// genesis state. A log behind the snapshot is refused.
func openLedger(ctx context.Context, cfg ledger.Config, opts ledger.Options,
	snapshots storage.SnapshotStore, events storage.EventStore,
) (*ledger.Ledger, error) {
	lastSeq, err := events.LastSeq(ctx, opts.LedgerID)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	opts.Store = memory.NewBalanceStore()

	snap, err := snapshots.Latest(ctx, opts.LedgerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if lastSeq == 0 {
			return ledger.New(cfg, opts)
		}
		if snap, err = ledger.GenesisSnapshot(cfg, opts.LedgerID); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	if lastSeq < snap.Seq {
		return nil, fmt.Errorf("event log of ledger %s is at seq %d, behind the latest snapshot at %d",
			opts.LedgerID, lastSeq, snap.Seq)
	}
	if lastSeq > snap.Seq {
		fold := replay.NewSnapshotFold(snap)
		if err := replay.NewRunner(events).Run(ctx, opts.LedgerID, snap.Seq+1, lastSeq, fold); err != nil {
			return nil, fmt.Errorf("roll snapshot forward from seq %d: %w", snap.Seq, err)
		}
		log := opts.Logger
		if log == nil {
			log = slog.Default()
		}
		log.Info("snapshot rolled forward", "ledger_id", opts.LedgerID, "from_seq", snap.Seq, "to_seq", lastSeq)
		snap = fold.Snapshot()
	}
	return ledger.Restore(cfg, snap, opts)
}

// saveSnapshot flushes the recorder, then saves a snapshot. The flush covers
// every event up to the snapshot's seq.
func saveSnapshot(ctx context.Context, l *ledger.Ledger, rec *recorder.Recorder, snapshots storage.SnapshotStore) error {
	snap := l.Snapshot(ctx)
	if err := rec.Flush(ctx); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	if rec.Pending(eventsTarget) > 0 {
		return errors.New("events still pending after flush")
	}
	err := snapshots.Save(ctx, snap)
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil // nothing committed since the last snapshot
	}
	if err != nil {
		return err
	}
	observability.RecordSnapshotSaved(time.Now().Unix())
	return nil
}

// stores holds the storage implementations selected by the flags.
type stores struct {
	events      storage.EventStore
	snapshots   storage.SnapshotStore
	checkpoints storage.CheckpointStore
	analytics   storage.AnalyticsStore // nil without ClickHouse
	memEvents   *memory.EventStore     // set in memory mode
	closers     []func()
}

// analyticsReader serves daily volume from ClickHouse, or from the in-memory
// event store when running without databases.
func (s *stores) analyticsReader() storage.AnalyticsStore {
	if s.analytics != nil {
		return s.analytics
	}
	if s.memEvents != nil {
		return s.memEvents
	}
	return nil
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, postgresDSN, clickhouseDSN string, log *slog.Logger) (*stores, error) {
	s := &stores{}

	if postgresDSN == "" {
		log.Warn("no --postgres-dsn; events and snapshots are kept in memory")
		s.memEvents = memory.NewEventStore()
		s.events = s.memEvents
		s.snapshots = memory.NewSnapshotStore()
		s.checkpoints = memory.NewCheckpointStore()
	} else {
		pool, err := postgres.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool, log); err != nil {
			s.close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s.events = postgres.NewEventStore(pool)
		s.snapshots = postgres.NewSnapshotStore(pool)
		s.checkpoints = postgres.NewCheckpointStore(pool)
	}

	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN, log)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.analytics = clickhouse.NewAnalyticsStore(conn)
	}
	return s, nil
}

func parseEntropy(name string) (ledger.EntropySource, error) {
	switch name {
	case "block":
		return ledger.BlockEntropy{}, nil
	case "crypto":
		return ledger.CryptoEntropy{}, nil
	}
	return nil, fmt.Errorf("unknown entropy source %q (want block or crypto)", name)
}

func parseAddresses(raw []string) ([]domain.Address, error) {
	out := make([]domain.Address, 0, len(raw))
	for _, s := range raw {
		a, err := domain.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func optionalAddress(s string) (domain.Address, error) {
	if s == "" {
		return domain.ZeroAddress, nil
	}
	return domain.ParseAddress(s)
}

// fundAccounts credits simulated native balances given as account=amount.
func fundAccounts(c *native.Channel, entries []string) error {
	for _, entry := range entries {
		account, amount, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("%q: want account=amount", entry)
		}
		a, err := domain.ParseAddress(account)
		if err != nil {
			return err
		}
		x, err := domain.ParseAmount(amount)
		if err != nil {
			return err
		}
		c.Fund(a, x)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
