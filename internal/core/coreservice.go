package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/database"
	"github.com/jo-hoe/faceswap/internal/backend/events"
	"github.com/jo-hoe/faceswap/internal/backend/faces"
	"github.com/jo-hoe/faceswap/internal/backend/imageio"
	"github.com/jo-hoe/faceswap/internal/backend/inference"
	"github.com/jo-hoe/faceswap/internal/backend/metrics"
	"github.com/jo-hoe/faceswap/internal/backend/retention"
	"github.com/jo-hoe/faceswap/internal/backend/storage"
)

const (
	roleSource = "source"
	roleTarget = "target"
)

// Upload is one submitted image part.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SwapResult is a stored swap and its encoded JPEG bytes.
type SwapResult struct {
	Record *database.Result
	Image  []byte
}

// Components are the collaborators of the core service. Nil Publisher and
// Metrics fall back to no-op and private implementations.
type Components struct {
	Database  database.DatabaseService
	Detector  faces.Detector
	Swapper   faces.Swapper
	Publisher events.Publisher
	Metrics   *metrics.Registry
}

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	paths           *storage.Paths
	decoder         imageio.Decoder
	pipeline        *faces.Pipeline
	publisher       events.Publisher
	metrics         *metrics.Registry
	janitor         *retention.Janitor
}

// NewCoreService wires the service from configuration.
func NewCoreService(ctx context.Context, config *ServiceConfig, registry *metrics.Registry) (*CoreService, error) {
	databaseService, err := getDatabaseService(ctx, config)
	if err != nil {
		return nil, err
	}

	detector, swapper, err := inference.NewProvider(config.Inference.Type, config.Inference.BaseURL, config.Model.Path, config.Inference.Timeout)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize inference provider: %w", err)
	}

	return NewCoreServiceWith(config, Components{
		Database:  databaseService,
		Detector:  detector,
		Swapper:   swapper,
		Publisher: events.NewPublisher(config.Events.Brokers, config.Events.Topic),
		Metrics:   registry,
	})
}

// NewCoreServiceWith builds the service around already constructed components.
func NewCoreServiceWith(config *ServiceConfig, components Components) (*CoreService, error) {
	if components.Database == nil || components.Detector == nil || components.Swapper == nil {
		return nil, errors.New("database, detector and swapper are required")
	}
	if components.Publisher == nil {
		components.Publisher = events.NoopPublisher{}
	}
	if components.Metrics == nil {
		components.Metrics = metrics.NewRegistry()
	}

	paths := storage.NewPaths(config.Storage.UploadDir, config.Storage.ResultDir)
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	return &CoreService{
		config:          config,
		databaseService: components.Database,
		paths:           paths,
		decoder:         imageio.Decoder{MaxPixels: config.MaxImagePixels},
		pipeline:        faces.NewPipeline(components.Detector, components.Swapper),
		publisher:       components.Publisher,
		metrics:         components.Metrics,
		janitor: retention.NewJanitor(components.Database, paths, components.Metrics,
			config.Retention.EffectiveTTL(), config.Retention.Interval),
	}, nil
}

func getDatabaseService(ctx context.Context, config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(ctx, config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

// SwapFaces stores both uploads under a request-scoped id, swaps the first
// face of the target onto the first face of the source and stores the JPEG.
func (service *CoreService) SwapFaces(ctx context.Context, source, target Upload) (*SwapResult, error) {
	start := time.Now()
	result, err := service.swapFaces(ctx, source, target)
	service.metrics.ObserveSwap(outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	service.metrics.AddResultBytes(len(result.Image))
	return result, nil
}

func (service *CoreService) swapFaces(ctx context.Context, source, target Upload) (*SwapResult, error) {
	id, err := database.GenerateID()
	if err != nil {
		return nil, err
	}
	logger := slog.With("id", id)

	sourcePath := service.paths.IntakePath(id, roleSource, source.Filename)
	if _, err := storage.SaveUpload(sourcePath, source.Content); err != nil {
		return nil, err
	}
	targetPath := service.paths.IntakePath(id, roleTarget, target.Filename)
	if _, err := storage.SaveUpload(targetPath, target.Content); err != nil {
		return nil, err
	}

	sourceImage, err := service.decoder.DecodeFile(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("source image: %w", err)
	}
	targetImage, err := service.decoder.DecodeFile(targetPath)
	if err != nil {
		return nil, fmt.Errorf("target image: %w", err)
	}

	swapped, err := service.pipeline.PerformSwap(ctx, sourceImage, targetImage)
	if err != nil {
		return nil, err
	}

	encoded, err := imageio.EncodeJPEG(swapped, service.config.JPEGQuality)
	if err != nil {
		return nil, err
	}
	resultPath := service.paths.ResultPath(id)
	if err := storage.WriteResult(resultPath, encoded); err != nil {
		return nil, err
	}

	record := &database.Result{
		ID:             id,
		SourceFilename: source.Filename,
		TargetFilename: target.Filename,
		SourcePath:     sourcePath,
		TargetPath:     targetPath,
		ResultPath:     resultPath,
		Size:           int64(len(encoded)),
		CreatedAt:      time.Now().UTC(),
	}
	if err := service.databaseService.CreateResult(ctx, record); err != nil {
		_ = storage.Remove(resultPath)
		return nil, fmt.Errorf("failed to record result: %w", err)
	}

	event := events.ResultCreated{
		ID:             record.ID,
		ResultPath:     record.ResultPath,
		SourceFilename: record.SourceFilename,
		TargetFilename: record.TargetFilename,
		CreatedAt:      record.CreatedAt,
	}
	if err := service.publisher.PublishResultCreated(ctx, event); err != nil {
		// the result is stored; a lost notification does not fail the request
		logger.Warn("failed to publish result event", "error", err)
	}

	logger.Info("face swap completed", "result", resultPath, "size_bytes", len(encoded))
	return &SwapResult{Record: record, Image: encoded}, nil
}

func (service *CoreService) GetResult(ctx context.Context, id string) (*database.Result, error) {
	return service.databaseService.GetResult(ctx, id)
}

// DeleteResult removes a result with its uploads and its record.
func (service *CoreService) DeleteResult(ctx context.Context, id string) error {
	record, err := service.databaseService.GetResult(ctx, id)
	if err != nil {
		return err
	}
	for _, path := range []string{record.ResultPath, record.SourcePath, record.TargetPath} {
		if err := storage.Remove(path); err != nil {
			return err
		}
	}
	return service.databaseService.DeleteResult(ctx, id)
}

// Prune runs one retention sweep.
func (service *CoreService) Prune(ctx context.Context) (retention.Report, error) {
	return service.janitor.Prune(ctx)
}

// RunRetention sweeps periodically until ctx is cancelled.
func (service *CoreService) RunRetention(ctx context.Context) {
	service.janitor.Run(ctx)
}

func (service *CoreService) Close() error {
	return errors.Join(service.publisher.Close(), service.databaseService.Close())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, faces.ErrNoFaceDetected):
		return metrics.OutcomeNoFace
	case errors.Is(err, imageio.ErrDecodeFailure):
		return metrics.OutcomeDecode
	case errors.Is(err, inference.ErrProvider):
		return metrics.OutcomeProvider
	default:
		return metrics.OutcomeError
	}
}
