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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/harliandi/go-fitsize/internal/config"
	"github.com/harliandi/go-fitsize/internal/converter"
	"github.com/harliandi/go-fitsize/internal/handler"
	"github.com/harliandi/go-fitsize/internal/logger"
	"github.com/harliandi/go-fitsize/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// server bundles the HTTP handler with the resources it must release
type server struct {
	handler http.Handler
	pool    *converter.WorkerPool
	limiter *middleware.RateLimiter
}

func (s *server) Close() {
	s.pool.Stop()
	s.limiter.Stop()
}

// newServer wires the converter, worker pool, routes and middleware.
func newServer(cfg *config.Config, log logrus.FieldLogger) *server {
	conv := converter.New(cfg.ConverterOptions(), log)
	pool := converter.NewWorkerPool(conv, cfg.WorkerCount)
	pool.Start()

	h := handler.New(pool, cfg.ConverterOptions(), cfg.MaxUploadMB, log)

	r := mux.NewRouter()
	h.Routes(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	rl := middleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst)

	// first listed is outermost
	chain := middleware.Chain(r,
		middleware.Security,
		middleware.RequestID,
		rl.Middleware,
		middleware.ConcurrencyLimit(cfg.MaxConcurrent),
		middleware.Recovery,
		middleware.Logger,
	)

	return &server{handler: chain, pool: pool, limiter: rl}
}

func main() {
	cfg, err := config.Load(os.Getenv("FITSIZE_CONFIG"))
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	log := logrus.StandardLogger()
	if err := logger.Configure(log, cfg.LoggerConfig()); err != nil {
		logrus.WithError(err).Fatal("failed to configure logging")
	}

	srv := newServer(cfg, log)

	// Configure server with timeouts to prevent slowloris and hanging connections
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"addr":           httpServer.Addr,
		"target_kb":      cfg.TargetSizeKB,
		"max_upload_mb":  cfg.MaxUploadMB,
		"max_concurrent": cfg.MaxConcurrent,
		"rate_limit":     cfg.RateLimitPerSec,
		"workers":        cfg.WorkerCount,
		"format":         cfg.OutputFormat,
	}).Info("starting compression API")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server error")
			srv.Close()
			os.Exit(1)
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	srv.Close()
}
