package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/api"
	"github.com/0x5487/exchange-core/config"
	"github.com/0x5487/exchange-core/logging"
	"github.com/0x5487/exchange-core/mq"
	"github.com/0x5487/exchange-core/store"
	"github.com/0x5487/exchange-core/stream"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", "", "path to a .env file (defaults to ./.env)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = logging.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = logging.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	match.SetLogger(logger.Named("engine"))

	if err := run(cfg, logger); err != nil {
		logger.Error("exchange stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := stream.NewMessageBroker(logger.Named("broker"), stream.WithClientQueueSize(cfg.Stream.ClientQueueSize))
	feed := stream.NewMarketFeed(broker, logger.Named("feed"))

	// Every sink gets its own ring so that a slow one delays only itself.
	pipelines := []*match.AsyncPublishLog{
		match.NewAsyncPublishLog(cfg.Engine.EventRingSize, feed,
			match.WithDropWhenFull(), match.WithPipelineName("feed")),
	}

	var trades *store.TradeStore
	if cfg.Storage.DataDir != "" {
		s, err := store.Open(cfg.Storage.DataDir, logger.Named("store"))
		if err != nil {
			return err
		}
		trades = s
		pipelines = append(pipelines, match.NewAsyncPublishLog(cfg.Engine.EventRingSize, trades,
			match.WithDropWhenFull(), match.WithPipelineName("store")))
	}

	var publisher *mq.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = mq.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("mq"))
		pipelines = append(pipelines, match.NewAsyncPublishLog(cfg.Engine.EventRingSize, publisher,
			match.WithDropWhenFull(), match.WithPipelineName("kafka")))
	}

	events := make(match.MultiPublishLog, 0, len(pipelines))
	for _, p := range pipelines {
		events = append(events, p)
	}

	engineOpts := []match.EngineOption{
		match.WithMarkets(cfg.Engine.Markets...),
		match.WithQueueDepth(cfg.Engine.QueueDepth),
	}
	if trades != nil {
		engineOpts = append(engineOpts, match.WithTradeIDSource(trades.LastTradeID))
	}
	engine := match.NewMatchingEngine(events, engineOpts...)
	feed.SetSnapshotSource(engine)

	tickerJob := stream.NewTickerBroadcaster(engine, broker, cfg.Stream.TickerInterval, logger.Named("ticker"))
	go tickerJob.Run(ctx)

	opts := []api.Option{
		api.WithAuthenticator(api.NewTokenAuthenticator(cfg.Server.APITokens)),
		api.WithCORSOrigins(cfg.Server.CORSOrigins...),
		api.WithLogger(logger.Named("api")),
	}
	if trades != nil {
		opts = append(opts, api.WithTradeReader(trades))
	}
	server := api.NewServer(engine, broker, opts...)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.Server.ListenAddr)
	}()

	logger.Info("exchange started",
		zap.String("version", match.EngineVersion),
		zap.Strings("markets", engine.Markets()),
		zap.String("addr", cfg.Server.ListenAddr),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown failed", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown failed", zap.Error(err))
	}
	for _, p := range pipelines {
		if err := p.Shutdown(shutdownCtx); err != nil {
			logger.Warn("event pipeline shutdown failed", zap.Error(err))
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if trades != nil {
		if err := trades.Close(); err != nil {
			logger.Warn("trade store close failed", zap.Error(err))
		}
	}

	logger.Info("exchange stopped")
	return runErr
}
