package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"market-bars/go/pkg/bar"
	"market-bars/go/pkg/session"
	"market-bars/go/pkg/shared"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Config struct {
	PG      shared.PostgresConfig
	Metrics shared.MetricsConfig
	Store   shared.StoreConfig
	Market  shared.MarketConfig
	Log     shared.LogConfig

	Port         int           `envconfig:"API_PORT" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"60s"`
	LoadWorkers  int           `envconfig:"LOAD_WORKERS" default:"0" validate:"gte=0"`
	VolumeSlack  float64       `envconfig:"VOLUME_SLACK" default:"1.5" validate:"gt=1"`
}

func main() {
	cfg, err := shared.Load[Config]("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := shared.NewLogger("bar_api", cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

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

	sessions := session.NewCalculator(session.WithLogger(logger))
	loader := bar.NewLoader(repo, sessions,
		bar.WithWorkers(cfg.LoadWorkers),
		bar.WithVolumeSlack(cfg.VolumeSlack),
		bar.WithMetrics(bar.NewMetrics(prometheus.DefaultRegisterer)),
		bar.WithLogger(logger))

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(NewBarHandler(reg, loader, sessions, logger), logger)
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		logger.Info("api listening", zap.Int("port", cfg.Port), zap.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown: draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", zap.Error(err))
	}
	_ = ms.Shutdown(shutdownCtx)
}
