package main

import (
	"context"
	"log"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"market-bars/go/pkg/shared"

	"go.uber.org/zap"
)

// Config of the tick bridge.
type Config struct {
	Kafka   shared.KafkaConfig
	Metrics shared.MetricsConfig
	Market  shared.MarketConfig
	Log     shared.LogConfig

	TokensCSV   string `envconfig:"KITE_TOKENS_CSV" default:"configs/tokens.csv"`
	TokenJSON   string `envconfig:"KITE_TOKEN_FILE" default:"ingestion/auth/token.json"`
	APIKey      string `envconfig:"KITE_API_KEY"`
	AccessToken string `envconfig:"KITE_ACCESS_TOKEN"`

	SimTicks     bool    `envconfig:"SIM_TICKS" default:"false"`
	Instruments  string  `envconfig:"INSTRUMENTS" default:"SHFE.rb2105"`
	SimStepMs    int     `envconfig:"SIM_STEP_MS" default:"500" validate:"gt=0"`
	SimBasePrice float64 `envconfig:"SIM_BASE_PRICE" default:"3800"`
	SimVolMin    int64   `envconfig:"SIM_VOL_MIN" default:"1" validate:"gt=0"`
	SimVolMax    int64   `envconfig:"SIM_VOL_MAX" default:"5" validate:"gtefield=SimVolMin"`

	BatchFlushMs   int `envconfig:"BATCH_FLUSH_MS" default:"200" validate:"gt=0"`
	MaxBatch       int `envconfig:"MAX_BATCH" default:"256" validate:"gt=0"`
	ProduceWorkers int `envconfig:"PRODUCE_WORKERS" default:"8" validate:"gt=0"`
	ProduceQueue   int `envconfig:"PRODUCE_QUEUE" default:"16000" validate:"gt=0"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := shared.NewLogger("tick_bridge", cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	metrics := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port, logger)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	_, reg, err := shared.OpenMarket(cfg.Market, logger)
	if err != nil {
		logger.Fatal("market definitions", zap.Error(err))
	}
	src, err := buildSource(cfg, reg, logger, metrics)
	if err != nil {
		logger.Fatal("build source", zap.Error(err))
	}
	out := make(chan shared.TickMessage, 20000)
	if err := src.Start(ctx, out); err != nil {
		logger.Fatal("source start", zap.Error(err))
	}

	var inFlight atomic.Int64
	opts := producerOptions{
		workers:    cfg.ProduceWorkers,
		queue:      cfg.ProduceQueue,
		maxBatch:   cfg.MaxBatch,
		flushEvery: time.Duration(cfg.BatchFlushMs) * time.Millisecond,
		topic:      cfg.Kafka.TickTopic,
	}
	newProducer := func() (shared.Producer, error) { return shared.NewProducer(cfg.Kafka, logger) }
	workerChans, stopWorkers, err := startProducerWorkers(ctx, opts, newProducer, logger, metrics, &inFlight)
	if err != nil {
		logger.Fatal("producer worker init", zap.Error(err))
	}
	defer stopWorkers()

	logger.Info("bridge running",
		zap.String("topic", cfg.Kafka.TickTopic),
		zap.Bool("sim", cfg.SimTicks),
		zap.Int("workers", cfg.ProduceWorkers),
		zap.Int("worker_queue", cfg.ProduceQueue))

	qTicker := time.NewTicker(250 * time.Millisecond)
	defer qTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown: draining producer queues")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = ms.Shutdown(shutdownCtx)
			cancel()
			return
		case tk, ok := <-out:
			if !ok {
				logger.Info("source closed")
				return
			}
			select {
			case workerChans[shardFor(tk.Instrument, len(workerChans))] <- tk:
				inFlight.Add(1)
			default:
				metrics.dropped.Inc()
			}
		case <-qTicker.C:
			metrics.qDepth.Set(float64(inFlight.Load() + int64(len(out))))
		}
	}
}
