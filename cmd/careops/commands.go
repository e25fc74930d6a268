package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/careops/internal/api"
	"github.com/LeventeLantos/careops/internal/config"
)

type ServeCmd struct {
	Migrate         bool          `help:"Create tables and indexes before serving." default:"true" negatable:""`
	ShutdownTimeout time.Duration `help:"Grace period for in-flight requests on shutdown." default:"10s"`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, c.Migrate)
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewHandler(a.outbox, a.worker, a.alloc, a.sched, cfg.Scheduler.BatchSize, log.With("component", "api"))
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(handler, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("careops starting",
		"addr", cfg.Server.Address,
		"interval", cfg.Scheduler.Interval.String(),
		"batch", cfg.Scheduler.BatchSize,
		"redis", cfg.Redis.Enabled,
		"amqp", cfg.AMQP.Enabled,
	)
	if cfg.Scheduler.AutoStart {
		a.sched.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		a.sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type ProcessOnceCmd struct {
	Limit int `help:"Maximum items to dispatch (defaults to SCHED_BATCH_SIZE)."`
}

func (c *ProcessOnceCmd) Run() error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close()

	limit := c.Limit
	if limit <= 0 {
		limit = cfg.Scheduler.BatchSize
	}
	res, err := a.worker.ProcessOnce(ctx, limit)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(res)
}
