package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/LeventeLantos/careops/internal/allocation"
	"github.com/LeventeLantos/careops/internal/breaker"
	"github.com/LeventeLantos/careops/internal/cache"
	"github.com/LeventeLantos/careops/internal/client"
	"github.com/LeventeLantos/careops/internal/config"
	"github.com/LeventeLantos/careops/internal/events"
	"github.com/LeventeLantos/careops/internal/outbox"
	"github.com/LeventeLantos/careops/internal/repo"
	"github.com/LeventeLantos/careops/internal/scheduler"
)

// app owns every long-lived connection. close releases them in reverse order.
type app struct {
	cfg *config.Config
	log *slog.Logger

	db   *sql.DB
	rdb  *redis.Client
	amqp *amqp.Connection

	outbox *outbox.Service
	worker *outbox.Worker
	alloc  *allocation.Service
	sched  *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (*app, error) {
	a := &app{cfg: cfg, log: log}

	db, err := sql.Open("pgx", cfg.Database.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.db = db

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		a.close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if migrate {
		if err := repo.EnsureSchema(ctx, db); err != nil {
			a.close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	var msgCache cache.MessageCache = cache.Nop{}
	if cfg.Redis.Enabled {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		msgCache = cache.NewRedisCache(a.rdb, cfg.Redis.TTL)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.Enabled {
		p, err := a.dialAMQP()
		if err != nil {
			a.close()
			return nil, err
		}
		publisher = p
	}

	queue := repo.NewPostgresQueueRepo(db)

	br := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	workerOpts := []outbox.WorkerOption{
		outbox.WithBackoff(outbox.NewBackoff(cfg.Outbox.MaxRetries)),
		outbox.WithWorkerCache(msgCache),
		outbox.WithPublisher(publisher),
		outbox.WithSendTimeout(cfg.Bridge.Timeout),
		outbox.WithWorkerLogger(log.With("component", "outbox_worker")),
	}
	if cfg.Dispatch.RatePerSecond > 0 {
		workerOpts = append(workerOpts, outbox.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.Dispatch.RatePerSecond), cfg.Dispatch.Burst)))
	}
	a.worker = outbox.NewWorker(queue, client.NewBridgeClient(cfg.Bridge.URL, cfg.Bridge.Timeout), br, workerOpts...)

	a.outbox = outbox.NewService(queue,
		outbox.WithCache(msgCache),
		outbox.WithPublicBaseURL(cfg.Outbox.PublicBaseURL),
		outbox.WithContentMax(cfg.Outbox.ContentMax),
		outbox.WithServiceLogger(log.With("component", "outbox")),
	)
	a.alloc = allocation.NewService(repo.NewPostgresAllocationRepo(db),
		allocation.WithServiceLogger(log.With("component", "allocation")),
	)

	batch := cfg.Scheduler.BatchSize
	a.sched, err = scheduler.New("outbox", cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := a.worker.ProcessOnce(ctx, batch)
		return err
	}, scheduler.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func (a *app) dialAMQP() (*events.AMQPPublisher, error) {
	conn, err := amqp.Dial(a.cfg.AMQP.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	a.amqp = conn

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := events.NewAMQPPublisher(ch, a.cfg.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a *app) close() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.log.Warn("close amqp", "error", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close postgres", "error", err)
		}
	}
}
