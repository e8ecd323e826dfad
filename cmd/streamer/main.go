package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pricestream/config"
	"pricestream/internal/api"
	"pricestream/internal/session"
	"pricestream/internal/stream"
	"pricestream/logger"
	"pricestream/pkg/hub"
	"pricestream/pkg/storage/postgres"
	"pricestream/pkg/storage/redis"
	"pricestream/pkg/storage/snapshotdb"
	"pricestream/pkg/storage/sqlite"
	"pricestream/pkg/twelvedata"
)

// closers run in reverse order on shutdown
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) closeAll(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}
}

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("streamer failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var cleanup closers
	defer cleanup.closeAll(log)

	calendar, err := session.NewCalendar(cfg.Session.Timezone, cfg.Session.Holidays, cfg.Session.EarlyCloses)
	if err != nil {
		return fmt.Errorf("session calendar: %w", err)
	}

	td := cfg.TwelveData
	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		log.Warn("twelvedata api key is not set; connections and seeding will be skipped")
	}
	translator := twelvedata.NewTranslator(td.CryptoPairs, td.ClassAliases, td.SkipTickers)
	rest := twelvedata.NewRESTClient(td.REST.BaseURL, apiKey, td.REST.Timeout)
	ws := twelvedata.NewWSClient(td.WS.URL, apiKey, td.WS.DialTimeout, td.WS.ReadTimeout, log)

	var rdb *goredis.Client
	if cfg.Cache.Driver == "redis" || cfg.Hub.Driver == "redis" {
		rdb, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		cleanup.add(rdb.Close)
	}

	cache, err := newCache(cfg, rdb, &cleanup)
	if err != nil {
		return err
	}
	publisher, err := newPublisher(cfg, rdb, &cleanup)
	if err != nil {
		return err
	}
	log.Info("sinks configured",
		zap.String("cache", cfg.Cache.Driver),
		zap.String("hub", cfg.Hub.Driver))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := stream.Deps{
		Translator: translator,
		Quotes:     rest,
		Dialer:     stream.WSDialer{Client: ws},
		Sessions:   calendar,
		Hub:        publisher,
		Cache:      cache,
		Metrics:    stream.NewMetrics(reg),
		Logger:     log,
	}
	streamer := stream.New(streamOptions(cfg), deps)

	loopDone := make(chan error, 1)
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelLoop()
	go func() { loopDone <- streamer.Run(loopCtx) }()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(streamer, log, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("control api listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.App.Autostart && len(cfg.App.Symbols) > 0 {
		res, err := streamer.Start(ctx, cfg.App.Symbols)
		if err != nil {
			log.Error("autostart failed", zap.Error(err))
		} else {
			log.Info("autostarted",
				zap.Int("symbols", res.Symbols),
				zap.Int64("seeded", res.Seeded),
				zap.Int("connections", res.Connections))
		}
	}

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("control api failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := streamer.Stop(shutdownCtx); err != nil {
		log.Warn("streamer stop", zap.Error(err))
	}
	cancelLoop()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("streamer loop exited", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func streamOptions(cfg *config.Config) stream.Options {
	opts := stream.DefaultOptions()
	sc := cfg.Stream
	opts.MaxConnections = sc.MaxConnections
	opts.HeartbeatInterval = cfg.TwelveData.WS.HeartbeatInterval
	opts.FirstTickDelay = sc.FirstTickDelay
	opts.ActiveInterval = sc.ActiveInterval
	opts.ClosedInterval = sc.ClosedInterval
	opts.DurableWriteInterval = sc.DurableWriteInterval
	opts.SeedStaleness = sc.SeedStaleness
	opts.BatchSize = cfg.TwelveData.REST.BatchSize
	opts.RequestsPerMinute = cfg.TwelveData.REST.RequestsPerMinute
	opts.ShrinkMinEntries = sc.ShrinkMinEntries
	opts.ShrinkRatio = sc.ShrinkRatio
	opts.InboxSize = sc.InboxSize
	opts.CacheKey = cfg.Cache.Key
	opts.Source = sc.Source
	return opts
}

func newCache(cfg *config.Config, rdb *goredis.Client, cleanup *closers) (stream.SnapshotStore, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return redis.NewSnapshotStore(rdb), nil
	case "postgres":
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.App.Environment, true)
		if err != nil {
			return nil, err
		}
		cleanup.add(client.Close)
		return snapshotdb.New(client.DB), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() error { return sqlite.Close(db) })
		if err := snapshotdb.AutoMigrate(db); err != nil {
			return nil, err
		}
		return snapshotdb.New(db), nil
	default:
		return nil, nil
	}
}

type closingPublisher interface {
	stream.Publisher
	io.Closer
}

func newPublisher(cfg *config.Config, rdb *goredis.Client, cleanup *closers) (stream.Publisher, error) {
	var p closingPublisher
	switch cfg.Hub.Driver {
	case "http":
		p = hub.NewHTTPPublisher(cfg.Hub.URL, cfg.Hub.Timeout)
	case "redis":
		p = hub.NewRedisPublisher(rdb, cfg.Hub.Channel)
	case "kafka":
		p = hub.NewKafkaPublisher(cfg.Hub.Kafka.Brokers, cfg.Hub.Kafka.Topic, cfg.Stream.Source)
	default:
		return nil, nil
	}
	cleanup.add(p.Close)
	return p, nil
}
