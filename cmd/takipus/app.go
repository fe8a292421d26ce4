package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/usdanismanlik/takipus/internal/api"
	"github.com/usdanismanlik/takipus/internal/approval"
	"github.com/usdanismanlik/takipus/internal/audit"
	"github.com/usdanismanlik/takipus/internal/auth"
	"github.com/usdanismanlik/takipus/internal/config"
	"github.com/usdanismanlik/takipus/internal/directory"
	"github.com/usdanismanlik/takipus/internal/events"
	"github.com/usdanismanlik/takipus/internal/ledger"
	"github.com/usdanismanlik/takipus/internal/ledger/pgstore"
	"github.com/usdanismanlik/takipus/internal/ledger/sqlstore"
	"github.com/usdanismanlik/takipus/internal/lifecycle"
	"github.com/usdanismanlik/takipus/internal/live"
	"github.com/usdanismanlik/takipus/internal/notify"
	"github.com/usdanismanlik/takipus/internal/reminder"
)

// app holds the wired process: one store shared by the lifecycle service,
// the scheduler and the notification pipeline.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	store     ledger.Store
	close     func() error
	hub       *live.Hub
	notifier  *notify.Dispatcher
	lifecycle *lifecycle.Service
	scheduler *reminder.Scheduler
}

// openStore opens the configured store and applies pending migrations.
func openStore(cfg config.Config) (ledger.Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.DB.Driver)) {
	case "", "memory":
		return ledger.NewInMemoryStore(), noop, nil
	}

	driver, err := ledger.ParseDriver(cfg.DB.Driver)
	if err != nil {
		return nil, nil, err
	}
	switch driver {
	case ledger.DBSQLite:
		st, err := sqlstore.OpenSQLite(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := ledger.Migrate(st.DB(), driver); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, st.Close, nil
	default:
		st, err := pgstore.OpenPostgres(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := ledger.Migrate(st.DB(), driver); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, st.Close, nil
	}
}

func newApp(cfg config.Config, log zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, store: store, close: closeStore, hub: live.NewHub(log)}

	a.notifier, err = notify.NewDispatcher(notify.Options{
		Store:       store,
		PushEnabled: cfg.Push.Enabled,
		SourceApp:   cfg.Push.SourceApp,
		Log:         log,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	var dir directory.Directory = directory.Static{}
	if cfg.Directory.BaseURL != "" {
		dir = directory.NewClient(directory.Options{
			BaseURL: cfg.Directory.BaseURL,
			TTL:     cfg.Directory.CacheTTL,
			Timeout: cfg.Directory.Timeout,
			Log:     log,
		})
	}

	publisher := events.NewDispatcher(events.DispatcherOptions{
		Notifier:    a.notifier,
		Auditor:     audit.NewRecorder(store, nil, log),
		Timeline:    store,
		Broadcaster: a.hub,
		Directory:   dir,
		Log:         log,
	})

	a.lifecycle, err = lifecycle.New(lifecycle.Input{
		Store:               store,
		Resolver:            approval.NewResolver(approval.StoreLookup{Store: store}),
		Publisher:           publisher,
		Log:                 log,
		DefaultReminderDays: cfg.Scheduler.DefaultReminderDays,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	a.scheduler, err = reminder.New(reminder.Options{
		Store:     store,
		Publisher: publisher,
		Location:  loc,
		Log:       log,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	return a, nil
}

func (a *app) handler() http.Handler {
	return api.NewRouter(&api.Handler{
		Auth:          auth.HeaderAuthenticator{Token: a.cfg.Auth.Token},
		Lifecycle:     a.lifecycle,
		Notifications: a.notifier,
		Scheduler:     a.scheduler,
		Store:         a.store,
		Live:          a.hub,
		Log:           a.log,
	})
}

func (a *app) server() *http.Server {
	return &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// startWorkers runs the scheduler loop and the push worker until ctx ends.
func (a *app) startWorkers(ctx context.Context) {
	if a.cfg.Scheduler.Enabled {
		go a.scheduler.RunLoop(ctx, a.cfg.Scheduler.Interval)
	}
	if a.cfg.Push.Enabled {
		go notify.RunOutboxWorker(ctx, notify.WorkerOptions{
			Store:        a.store,
			Pusher:       notify.NewGateway(a.cfg.Push.GatewayURL, a.cfg.Push.Timeout),
			BatchSize:    a.cfg.Push.BatchSize,
			MaxAttempts:  a.cfg.Push.MaxAttempts,
			PollInterval: a.cfg.Push.PollInterval,
			Log:          a.log,
		})
	}
}
