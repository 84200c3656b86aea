package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/dcbackoffice/invoice-pipeline/internal/adapters/http"
	"github.com/dcbackoffice/invoice-pipeline/internal/bootstrap"
	"github.com/dcbackoffice/invoice-pipeline/internal/config"
	"github.com/dcbackoffice/invoice-pipeline/internal/observability/logging"
	"github.com/dcbackoffice/invoice-pipeline/internal/observability/metrics"
)

const serviceName = "invoice-pipeline-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	router := httpadapter.NewRouter(
		app.SubmitUC,
		app.PipelineUC,
		app.BatchUC,
		app.ReaderUC,
		app.Invoices,
		httpadapter.Options{
			Service:          serviceName,
			MaxUploadBytes:   cfg.MaxUploadBytes,
			ListLimitDefault: cfg.ListLimitDefault,
			ListLimitMax:     cfg.ListLimitMax,
			RateLimitRPS:     cfg.APIRateLimitRPS,
			RateLimitBurst:   cfg.APIRateLimitBurst,
			MaxInFlight:      cfg.APIMaxInFlight,
			Metrics:          httpMetrics,
		},
	).Handler()

	mux := http.NewServeMux()
	mux.Handle("/metrics", httpMetrics.Handler())
	mux.Handle("/", router)

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_failed", "error", err)
	}
}
