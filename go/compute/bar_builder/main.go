package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/session"
	"market-bars/go/pkg/shared"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Config struct {
	Kafka   shared.KafkaConfig
	PG      shared.PostgresConfig
	Metrics shared.MetricsConfig
	Store   shared.StoreConfig
	Market  shared.MarketConfig
	Log     shared.LogConfig

	Instruments string `envconfig:"INSTRUMENTS" default:"SHFE.rb2105" validate:"required"`
	Schedules   string `envconfig:"BUILD_SCHEDULES" default:"0 30 15 * * 1-5" validate:"required"`
	TZ          string `envconfig:"BUILD_TZ" default:"Asia/Shanghai"`
	RunOnStart  bool   `envconfig:"RUN_ON_START" default:"false"`
	ParquetDir  string `envconfig:"PARQUET_DIR"`
	Publish     bool   `envconfig:"PUBLISH" default:"true"`
}

// schedule registers job under every ';'-separated six-field spec.
func schedule(c *cron.Cron, specs string, job func()) (int, error) {
	n := 0
	for _, spec := range strings.Split(specs, ";") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if _, err := c.AddFunc(spec, job); err != nil {
			return n, fmt.Errorf("register %q: %w", spec, err)
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("no schedules in %q", specs)
	}
	return n, nil
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := shared.NewLogger("bar_builder", cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	m := newMetrics()
	ms := shared.NewMetricsServer(cfg.Metrics.Port, logger)
	ms.Start()

	ctx, stopSig := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSig()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Fatal("schedule timezone", zap.String("tz", cfg.TZ), zap.Error(err))
	}
	_, reg, err := shared.OpenMarket(cfg.Market, logger)
	if err != nil {
		logger.Fatal("market definitions", zap.Error(err))
	}
	insts, err := shared.ResolveList(reg, cfg.Instruments)
	if err != nil {
		logger.Fatal("instruments", zap.Error(err))
	}
	repo, closeRepo, err := shared.OpenRepository(ctx, cfg.Store, cfg.PG, logger)
	if err != nil {
		logger.Fatal("repository init", zap.Error(err))
	}
	defer closeRepo()

	sessions := session.NewCalculator(session.WithLogger(logger))
	b := &builder{
		repo:        repo,
		loader:      bar.NewLoader(repo, sessions, bar.WithLogger(logger)),
		sessions:    sessions,
		instruments: insts,
		parquetDir:  cfg.ParquetDir,
		metrics:     m,
		log:         logger,
		now:         time.Now,
	}
	if cfg.Publish {
		producer, err := shared.NewProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("producer init", zap.Error(err))
		}
		defer producer.Close()
		b.producer, b.topic = producer, cfg.Kafka.BarTopic
	}

	job := func() {
		if err := b.run(ctx); err != nil {
			logger.Error("build run finished with errors", zap.Error(err))
		}
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	n, err := schedule(c, cfg.Schedules, job)
	if err != nil {
		logger.Fatal("schedule", zap.Error(err))
	}
	if cfg.RunOnStart {
		job()
	}
	c.Start()
	logger.Info("builder scheduled",
		zap.Int("schedules", n),
		zap.String("tz", cfg.TZ),
		zap.Int("instruments", len(insts)),
		zap.Bool("publish", cfg.Publish),
		zap.String("parquet_dir", cfg.ParquetDir))

	<-ctx.Done()
	logger.Info("shutdown: waiting for running build")
	<-c.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_ = ms.Shutdown(shutdownCtx)
	cancel()
}
