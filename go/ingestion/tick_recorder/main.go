package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"market-bars/go/pkg/instrument"
	"market-bars/go/pkg/repository"
	"market-bars/go/pkg/shared"

	"go.uber.org/zap"
)

type Config struct {
	Kafka   shared.KafkaConfig
	PG      shared.PostgresConfig
	Metrics shared.MetricsConfig
	Grace   shared.GraceConfig
	Store   shared.StoreConfig
	Market  shared.MarketConfig
	Log     shared.LogConfig

	Workers     int `envconfig:"RECORDER_WORKERS" default:"8" validate:"gt=0"`
	QueueSize   int `envconfig:"RECORDER_QUEUE_SIZE" default:"8000" validate:"gt=0"`
	FlushTickMS int `envconfig:"RECORDER_FLUSH_TICK_MS" default:"500" validate:"gte=100"`
}

func startWorkers(
	ctx context.Context,
	cfg Config,
	repo repository.Repository,
	reg *instrument.Registry,
	m metrics,
	log *zap.Logger,
	active *atomic.Int64,
) ([]chan shared.TickMessage, func()) {
	chans := make([]chan shared.TickMessage, cfg.Workers)
	var wg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan shared.TickMessage, cfg.QueueSize)
		w := &worker{
			id:        i,
			repo:      repo,
			reg:       reg,
			metrics:   m,
			active:    active,
			log:       log,
			in:        chans[i],
			batchSize: cfg.Grace.BatchSize,
			grace:     cfg.Grace.FlushGrace,
			flushTick: time.Duration(cfg.FlushTickMS) * time.Millisecond,
			now:       time.Now,
			state:     make(map[bufferKey]*buffer),
		}
		wg.Add(1)
		go w.run(ctx, &wg)
	}
	stop := func() {
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
	}
	return chans, stop
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := shared.NewLogger("tick_recorder", cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	m := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port, logger)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	_, reg, err := shared.OpenMarket(cfg.Market, logger)
	if err != nil {
		logger.Fatal("market definitions", zap.Error(err))
	}
	repo, closeRepo, err := shared.OpenRepository(ctx, cfg.Store, cfg.PG, logger)
	if err != nil {
		logger.Fatal("repository init", zap.Error(err))
	}
	defer closeRepo()

	consumer, err := shared.NewConsumer(cfg.Kafka, []string{cfg.Kafka.TickTopic})
	if err != nil {
		logger.Fatal("consumer init", zap.Error(err))
	}
	defer consumer.Close()

	var active atomic.Int64
	workerChans, stopWorkers := startWorkers(ctx, cfg, repo, reg, m, logger, &active)
	defer stopWorkers()

	logger.Info("recorder running",
		zap.String("topic", cfg.Kafka.TickTopic),
		zap.String("store", cfg.Store.Backend),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue", cfg.QueueSize))

loop:
	for {
		msg, err := consumer.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break loop
			}
			logger.Warn("poll failed", zap.Error(err))
			continue
		}
		tk, err := shared.DecodeTick(msg.Value)
		if err != nil {
			m.rejected.WithLabelValues("decode").Inc()
			_ = consumer.Commit(msg)
			continue
		}
		inst, err := reg.Resolve(tk.Instrument)
		if err != nil {
			m.rejected.WithLabelValues("instrument").Inc()
			_ = consumer.Commit(msg)
			continue
		}
		// canonical name so spellings of one instrument share a shard
		tk.Instrument = inst.String()
		select {
		case workerChans[instrumentShard(tk.Instrument, len(workerChans))] <- tk:
		case <-ctx.Done():
			break loop
		}
		if err := consumer.Commit(msg); err != nil {
			logger.Warn("commit failed", zap.Error(err))
		}
	}
	logger.Info("shutdown: draining worker queues")
}
