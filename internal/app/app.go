// Package app holds the process wiring shared by the three coordinator
// binaries.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-saga-orders/internal/kafka"
	"github.com/ariefcatur/go-saga-orders/internal/logging"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/ariefcatur/go-saga-orders/internal/redisx"
	"github.com/ariefcatur/go-saga-orders/internal/tracing"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are the connections every coordinator process opens.
type Deps struct {
	Cfg      config.Config
	Log      *zap.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Producer *kafkax.Producer

	closers []func()
}

// Setup loads config, builds the logger, installs tracing, connects to
// Postgres (applying schema and the outbox table), Redis and Kafka.
func Setup(ctx context.Context, service, schema string) (*Deps, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	d := &Deps{Cfg: cfg, Log: log}
	d.closers = append(d.closers, func() { _ = log.Sync() })

	shutdownTracing, err := tracing.Init(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	})

	if d.DB, err = postgres.Connect(ctx, cfg.PostgresDSN); err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, d.DB.Close)
	if err := postgres.Migrate(ctx, d.DB, schema+outbox.Schema); err != nil {
		d.Close()
		return nil, err
	}

	if d.Redis, err = redisx.New(ctx, cfg.RedisAddr); err != nil {
		d.Close()
		return nil, err
	}
	d.closers = append(d.closers, func() { _ = d.Redis.Close() })

	d.Producer = kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, log)
	d.Producer.Topics = cfg.Topics()
	d.closers = append(d.closers, func() {
		if err := d.Producer.Close(); err != nil {
			log.Warn("producer close", zap.Error(err))
		}
	})
	return d, nil
}

// Close releases everything Setup opened, newest first.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Subscription maps logical topics (events.Topic*) through the config, so
// the consumer reads the same broker topics producers write.
func (d *Deps) Subscription(logical ...string) []string {
	topics := d.Cfg.Topics()
	out := make([]string, 0, len(logical))
	for _, t := range logical {
		if name, ok := topics[t]; ok {
			t = name
		}
		out = append(out, t)
	}
	return out
}

// Run consumes topics into h, relays the outbox to Kafka and serves router
// until ctx is cancelled or one of them fails.
func (d *Deps) Run(ctx context.Context, h kafkax.EventHandler, topics []string, router http.Handler) error {
	dedup := &redisx.Deduper{RDB: d.Redis}
	consumer := kafkax.NewConsumer(d.Cfg.KafkaBrokers, d.Cfg.ConsumerGroup, topics, d.Cfg.ConsumerWorkers, d.Log)
	srv := &http.Server{
		Addr:              d.Cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	relay := &outbox.Relay{
		Store:     &outbox.PG{DB: d.DB, Producer: d.Cfg.ServiceName},
		Publisher: d.Producer,
		Log:       d.Log.Named("outbox"),
		Service:   d.Cfg.ServiceName,
		Interval:  d.Cfg.OutboxInterval,
		BatchSize: d.Cfg.OutboxBatchSize,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Log.Info("consumer started",
			zap.String("group", d.Cfg.ConsumerGroup),
			zap.Strings("topics", topics),
			zap.Int("workers", d.Cfg.ConsumerWorkers),
		)
		return consumer.Start(ctx, kafkax.Dispatch(d.Cfg.ServiceName, h, dedup, d.Log))
	})
	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		return httpx.Serve(ctx, srv, d.Log)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
