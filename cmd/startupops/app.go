package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sakura-kun-88/startup-compass-89/pkg/chain"
	"github.com/sakura-kun-88/startup-compass-89/pkg/codec"
	"github.com/sakura-kun-88/startup-compass-89/pkg/config"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
	"github.com/sakura-kun-88/startup-compass-89/pkg/journal"
	"github.com/sakura-kun-88/startup-compass-89/pkg/notify"
	"github.com/sakura-kun-88/startup-compass-89/pkg/observability"
	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// app is the wired service.
type app struct {
	cfg       *config.Config
	ledger    *chain.Ledger
	coord     *submission.Coordinator
	journal   journal.Store
	validator *identity.Validator
	provider  *observability.Provider
	closers   []func(context.Context) error
}

// appOptions tweak wiring for one-shot commands.
type appOptions struct {
	// memoryJournal skips DATABASE_URL and journals in process.
	memoryJournal bool
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// buildApp wires ledger -> firewall -> throttle -> timeout under the
// coordinator, with journal, notifier and tracker observers.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, ledger: chain.NewLedger()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	registry, err := cfg.LoadCategories()
	if err != nil {
		return nil, err
	}

	firewall, err := chain.NewContractFirewall(a.ledger)
	if err != nil {
		return nil, fmt.Errorf("firewall: %w", err)
	}
	policy := chain.ThrottlePolicy{PerSecond: cfg.ChainRPS, Burst: cfg.ChainBurst}

	var (
		limiter chain.LimiterStore = chain.NewMemoryLimiter(policy)
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		limiter = chain.NewRedisLimiterWithClient(rdb, policy)
	}
	writer := chain.WithTimeout(chain.NewThrottle(firewall, limiter), cfg.ChainTimeout)

	if opts.memoryJournal {
		a.journal = journal.NewMemoryStore()
	} else if a.journal, err = openJournal(ctx, cfg); err != nil {
		return nil, err
	}

	ks, err := identity.NewInMemoryKeySet()
	if err != nil {
		return nil, fmt.Errorf("keyset: %w", err)
	}
	a.validator = identity.NewValidator(ks)

	coordOpts := []submission.Option{
		submission.WithObserver(journal.NewRecorder(a.journal)),
	}
	if cfg.ProofSeed != "" {
		coordOpts = append(coordOpts, submission.WithCodec(codec.New(codec.WithSeed([]byte(cfg.ProofSeed)))))
	}
	if rdb != nil {
		coordOpts = append(coordOpts, submission.WithObserver(notify.NewRedisPublisher(rdb)))
	}
	if cfg.OTelEnabled {
		oc := observability.DefaultConfig()
		oc.OTLPEndpoint = cfg.OTelEndpoint
		a.provider, err = observability.New(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("observability: %w", err)
		}
		a.closers = append(a.closers, a.provider.Shutdown)
		tracker := observability.NewSubmissionTracker(a.provider)
		coordOpts = append(coordOpts, submission.WithTracker(tracker), submission.WithObserver(tracker))
	}

	a.coord = submission.NewCoordinator(writer, registry, coordOpts...)
	// Drain in-flight writes before the journal and redis go away.
	a.closers = append(a.closers, a.coord.Wait)
	ok = true
	return a, nil
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	if cfg.UsesPostgres() {
		s, err := journal.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := journal.OpenSQLite(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := a.journal.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
