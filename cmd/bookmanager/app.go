package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"bookmanager/internal/access"
	"bookmanager/internal/apperr"
	"bookmanager/internal/audit"
	"bookmanager/internal/cache"
	"bookmanager/internal/catalog"
	"bookmanager/internal/circulation"
	"bookmanager/internal/config"
	"bookmanager/internal/httpapi"
	"bookmanager/internal/membership"
	"bookmanager/internal/metrics"
	"bookmanager/internal/store/memory"
	"bookmanager/internal/store/postgres"
)

var errUsernameTaken = apperr.Validation("username already taken")

// backend is what both stores provide.
type backend interface {
	Catalog() catalog.Store
	Membership() membership.Store
	Circulation() circulation.Store
	audit.Probe
	audit.EventFeed
}

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	tokens  *access.Tokens
	metrics *metrics.Metrics
	audit   *audit.Engine
	events  audit.EventFeed

	catalog     catalog.Service
	membership  membership.Service
	circulation circulation.Service

	ready   func(*http.Request) error
	closers []func() error
}

// newApp wires the store, the cache and every service. An empty database
// URL selects the in-memory store.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	tokens, err := access.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth.jwt_secret: %w", err)
	}
	a.tokens = tokens

	var store backend
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory store")
		store = memory.New()
	} else {
		db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		a.closers = append(a.closers, db.Close)
		a.ready = func(r *http.Request) error { return db.PingContext(r.Context()) }
		store = postgres.New(db, logger)
	}

	var c cache.Cache = cache.Noop{}
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, "bookmanager:")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rc.Close)
		c = rc
	}

	fine, err := cfg.Circulation.Fine()
	if err != nil {
		a.Close()
		return nil, err
	}
	policy := access.DefaultPolicy()

	a.catalog = catalog.NewService(store.Catalog(), policy, catalog.NewCoder(cfg.Catalog.MaxCodeAttempts),
		catalog.WithCache(c, cfg.Cache.TTL),
		catalog.WithLogger(logger),
	)
	a.membership = membership.NewService(store.Membership(), policy, tokens,
		membership.WithLogger(logger),
		membership.WithLoginLimit(cfg.Auth.LoginRate, cfg.Auth.LoginBurst),
		membership.WithRegisterLimit(cfg.Auth.RegisterRate, cfg.Auth.RegisterBurst),
		membership.WithDefaultBorrowLimit(cfg.Membership.DefaultBorrowLimit),
	)
	a.circulation = circulation.NewService(store.Circulation(), policy, circulation.Policy{
		LoanPeriod:  cfg.Circulation.LoanPeriod,
		FinePerDay:  fine,
		MaxRenewals: cfg.Circulation.MaxRenewals,
	},
		circulation.WithCache(c),
		circulation.WithLogger(logger),
		circulation.WithRecorder(a.metrics),
	)

	a.events = store
	a.audit = audit.NewEngine(logger)
	a.audit.Register(audit.DefaultChecks(store)...)
	if cfg.Audit.ThresholdsFile != "" {
		if err := loadThresholds(a.audit, cfg.Audit.ThresholdsFile); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.audit.OnReport(func(r *audit.Report) { a.metrics.AuditFailures(len(r.Violations())) })
	return a, nil
}

func loadThresholds(engine *audit.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open thresholds file: %w", err)
	}
	defer f.Close()
	thresholds, err := audit.LoadThresholds(f)
	if err != nil {
		return err
	}
	return engine.Override(thresholds)
}

func (a *app) router() http.Handler {
	policy := access.DefaultPolicy()
	mh := membership.NewHandler(a.membership, a.logger)
	return httpapi.NewRouter(httpapi.Config{
		Tokens:  a.tokens,
		Logger:  a.logger,
		Metrics: a.metrics,
		Ready:   a.ready,
	},
		[]httpapi.PublicRoutes{mh},
		[]httpapi.Routes{
			catalog.NewHandler(a.catalog, a.logger),
			mh,
			circulation.NewHandler(a.circulation, a.logger),
			audit.NewHandler(a.audit, a.events, policy, a.logger),
		},
	)
}

// bootstrapAdmin creates the admin account unless the username exists.
func (a *app) bootstrapAdmin(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}
	_, err := a.membership.CreateAdmin(ctx, username, username, password)
	if err == nil {
		a.logger.InfoContext(ctx, "admin account created", "username", username)
		return nil
	}
	if errors.Is(err, errUsernameTaken) {
		return nil
	}
	return err
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
