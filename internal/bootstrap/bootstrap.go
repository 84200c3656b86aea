package bootstrap

import (
	"context"
	"fmt"

	"github.com/dcbackoffice/invoice-pipeline/internal/config"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/usecase"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/archive/drive"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/extraction"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/extraction/gemini"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/extraction/openai"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/queue/nats"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/rates/frankfurter"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/repository/postgres"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/resilience"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/salesreport"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/storage/localfs"
)

// App wires the pipeline's collaborators once and shares them between the
// api and worker binaries.
type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Uploads  ports.UploadRepository
	Invoices ports.InvoiceRepository

	SubmitUC   ports.UploadSubmitter
	PipelineUC ports.PipelineRunner
	BatchUC    ports.BatchSubmitter
	ReaderUC   ports.UploadReader

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	uploads := postgres.NewUploadRepository(db)
	if err := uploads.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	invoices := postgres.NewInvoiceRepository(db)
	sales := postgres.NewSalesRepository(db)

	store, err := localfs.New(cfg.StoragePath, cfg.StagingPath)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultPolicy())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	primary := gemini.New(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey, executor)
	var fallback extraction.TextModel
	if cfg.OpenAIAPIKey != "" {
		fallback = openai.New(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIAPIKey, executor)
	}
	rateSource := frankfurter.New(cfg.FrankfurterBaseURL, executor)
	extractor := extraction.NewService(primary, fallback, rateSource)

	archiver := drive.New(cfg.DriveBaseURL, cfg.DriveFolderID, cfg.DriveToken, executor)

	submitUC := usecase.NewSubmitUploadUseCase(uploads, store, queue)
	pipelineUC := usecase.NewPipelineUseCase(uploads, invoices, store, extractor, archiver,
		salesreport.NewParser(), sales)
	batchUC := usecase.NewBatchUseCase(submitUC, pipelineUC)

	return &App{
		Config: cfg,

		Queue:    queue,
		Uploads:  uploads,
		Invoices: invoices,

		SubmitUC:   submitUC,
		PipelineUC: pipelineUC,
		BatchUC:    batchUC,
		ReaderUC:   uploads,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
