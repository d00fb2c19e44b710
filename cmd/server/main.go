package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/casebattle-backend/internal/battle"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/config"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/httpapi"
	"github.com/DoyleJ11/casebattle-backend/internal/hub"
	"github.com/DoyleJ11/casebattle-backend/internal/ledger"
	"github.com/DoyleJ11/casebattle-backend/internal/metrics"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
	"github.com/DoyleJ11/casebattle-backend/internal/store"
	"github.com/DoyleJ11/casebattle-backend/internal/store/gormstore"
	"github.com/DoyleJ11/casebattle-backend/internal/store/memory"
	"github.com/DoyleJ11/casebattle-backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Local() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openStores picks the in-memory adapters when no database is configured.
func openStores(ctx context.Context, cfg config.Config, boxes []catalog.Box, log *zap.Logger) (store.Store, ledger.Ledger, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, state is kept in memory")
		l := ledger.NewMemory()
		l.DefaultBalance = cfg.DevStartingBalance
		return memory.New(boxes...), l, func() {}, nil
	}

	db, err := gormstore.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	st := gormstore.New(db)
	closeFn := func() {
		if err := st.Close(); err != nil {
			log.Warn("close database", zap.Error(err))
		}
	}
	if err := st.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	if err := st.SeedBoxes(ctx, boxes); err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	l := gormstore.NewLedger(db)
	l.DefaultBalance = cfg.DevStartingBalance
	return st, l, closeFn, nil
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boxes, err := catalog.LoadFile(cfg.BoxesFile)
	if err != nil {
		return fmt.Errorf("load boxes: %w", err)
	}
	st, l, closeStore, err := openStores(ctx, cfg, boxes, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	committer := fairness.NewCommitter(st)

	h := hub.NewHub(ctx, room.Deps{
		Ledger:    l,
		Store:     st,
		Committer: committer,
		Log:       log.Named("room"),
		Metrics:   m,
		Timing: room.Timing{
			Countdown:    cfg.Countdown,
			RoundDelay:   cfg.RoundDelay,
			WaitingTTL:   cfg.WaitingTTL,
			ArchiveAfter: cfg.ArchiveAfter,
		},
		FeeRate: cfg.FeeRate,
		Limits:  engine.Limits{MaxPlayers: cfg.MaxPlayers, MaxRounds: cfg.MaxRounds},
	}, m)

	battles := battle.NewService(h, st, st)
	openings := opening.NewService(st, st, committer, l, log.Named("opening"), m)

	handler := httpapi.SetupRoutes(httpapi.Routes{
		API: httpapi.NewAPI(battles, openings, st, log.Named("http")),
		WS: ws.Handler(battles, ws.Options{
			Log:            log.Named("ws"),
			Metrics:        m,
			WriteTimeout:   cfg.WSWriteTimeout,
			OriginPatterns: cfg.WSOriginPatterns,
		}),
		Metrics: m.Handler(),
		Log:     log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Int("boxes", len(boxes)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		select {
		case <-h.Done():
		case <-shutdownCtx.Done():
			log.Warn("hub did not stop before the shutdown timeout")
		}
		return err
	})
	return g.Wait()
}
