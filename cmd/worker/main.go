package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/bootstrap"
	"github.com/dcbackoffice/invoice-pipeline/internal/config"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/observability/logging"
	"github.com/dcbackoffice/invoice-pipeline/internal/observability/metrics"
)

const serviceName = "invoice-pipeline-worker"

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

	pipelineMetrics := metrics.NewPipelineMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: pipelineMetrics.Handler(),
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker_metrics_failed", "error", err)
		}
	}()

	stageTimeout := time.Duration(cfg.WorkerStageTimeoutSeconds) * time.Second
	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)

	err = app.Queue.SubscribeUploadCreated(ctx, func(handlerCtx context.Context, uploadID string) error {
		stageCtx, cancel := context.WithTimeout(handlerCtx, stageTimeout)
		defer cancel()

		if up, err := app.Uploads.GetByID(stageCtx, uploadID); err == nil {
			pipelineMetrics.ObserveQueueLag(serviceName, time.Since(up.CreatedAt))
		}

		pipelineMetrics.StartStage()
		started := time.Now()
		up, err := app.PipelineUC.StartAI(stageCtx, uploadID)
		pipelineMetrics.FinishStage(serviceName, "ai", time.Since(started), err)
		if err != nil {
			// A concurrent manual start or an already-processed upload is
			// expected with queue redelivery; only real failures propagate.
			if domain.IsKind(err, domain.ErrStageInFlight) || domain.IsKind(err, domain.ErrInvalidTransition) {
				slog.Info("upload_event_skipped", "upload_id", uploadID, "reason", err.Error())
				return nil
			}
			return err
		}

		if up.Status == domain.StatusAICompleted && up.ExtractedFields != nil {
			pipelineMetrics.RecordExtraction(serviceName, up.ExtractedFields.AIProvider)
		}

		if up.Status == domain.StatusAICompleted && up.DocumentType == domain.DocTypeInvoice && !up.ArchiveSkipped {
			started = time.Now()
			pipelineMetrics.StartStage()
			_, archiveErr := app.PipelineUC.StartArchive(stageCtx, uploadID)
			pipelineMetrics.FinishStage(serviceName, "archive", time.Since(started), archiveErr)
			if archiveErr != nil && !domain.IsKind(archiveErr, domain.ErrInvalidTransition) {
				return archiveErr
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
