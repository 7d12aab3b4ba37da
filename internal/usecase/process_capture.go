package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/domain/entity"
	"github.com/nerfstudio/capture-processing-service/internal/domain/port"
	"github.com/nerfstudio/capture-processing-service/internal/infra/metrics"
	"github.com/nerfstudio/capture-processing-service/internal/nerf"
)

// cameraModels maps the user-facing camera type to COLMAP's model name.
var cameraModels = map[string]string{
	"perspective": "OPENCV",
	"fisheye":     "OPENCV_FISHEYE",
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".m4v": true,
}

type ProcessCaptureUseCase struct {
	repo       port.JobRepository
	storage    port.CaptureStorage
	extractor  port.FrameExtractor
	downscaler port.Downscaler
	sfm        port.SfMRunner
	archiver   port.Archiver
	converter  *nerf.Converter
	publisher  port.StatusPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	logger     *zap.Logger
	cfg        ProcessCaptureConfig
}

type ProcessCaptureConfig struct {
	TempDir         string
	MaxRetries      int
	NumFramesTarget int
	NumDownscales   int
	CameraType      string
	UseGPU          bool
}

func NewProcessCaptureUseCase(
	repo port.JobRepository,
	storage port.CaptureStorage,
	extractor port.FrameExtractor,
	downscaler port.Downscaler,
	sfm port.SfMRunner,
	archiver port.Archiver,
	converter *nerf.Converter,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessCaptureConfig,
) *ProcessCaptureUseCase {
	return &ProcessCaptureUseCase{
		repo:       repo,
		storage:    storage,
		extractor:  extractor,
		downscaler: downscaler,
		sfm:        sfm,
		archiver:   archiver,
		converter:  converter,
		publisher:  publisher,
		dlq:        dlq,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

func (uc *ProcessCaptureUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessCaptureUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.CaptureProcessingMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.capture_key", msg.CaptureKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("capture_key", msg.CaptureKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.CaptureKey, msg.FileSize, uc.cfg.MaxRetries)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.processCapturePipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobStageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessCaptureUseCase) processCapturePipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.CaptureProcessingMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.cfg.TempDir, job.ID.String())
	datasetDir := filepath.Join(workDir, "dataset")
	imageDir := filepath.Join(datasetDir, "images")
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Download capture
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_capture")
	capturePath := filepath.Join(workDir, "capture"+strings.ToLower(filepath.Ext(msg.CaptureKey)))
	if err := uc.storage.DownloadCapture(ctx2, msg.CaptureKey, capturePath); err != nil {
		spanDl.End()
		log.Error("failed to download capture", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_capture: "+err.Error(), log)
	}
	spanDl.End()
	metrics.JobStageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	// Populate the image dir: extract video frames or unpack an image zip
	exStart := time.Now()
	ctx3, spanEx := tracer.Start(ctx, "prepare_images")
	frameCount, videoDuration, err := uc.prepareImages(ctx3, msg, capturePath, imageDir, log)
	spanEx.End()
	if err != nil {
		log.Error("image preparation failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "prepare_images: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("extract").Observe(time.Since(exStart).Seconds())
	metrics.FramesExtractedTotal.Add(float64(frameCount))

	// Downscale passes
	if numDownscales := uc.numDownscales(msg); numDownscales > 0 {
		dsStart := time.Now()
		ctx4, spanDs := tracer.Start(ctx, "downscale_images")
		if _, err := uc.downscaler.Downscale(ctx4, imageDir, numDownscales); err != nil {
			spanDs.End()
			log.Error("downscaling failed", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "downscale_images: "+err.Error(), log)
		}
		spanDs.End()
		metrics.JobStageDuration.WithLabelValues("downscale").Observe(time.Since(dsStart).Seconds())
	}

	// Sparse reconstruction
	sfmStart := time.Now()
	ctx5, spanSfm := tracer.Start(ctx, "sparse_reconstruction")
	sparseModel, err := uc.sfm.Reconstruct(ctx5, imageDir, filepath.Join(datasetDir, "colmap"), port.SfMOptions{
		CameraModel: uc.cameraModel(msg),
		UseGPU:      uc.cfg.UseGPU,
	})
	spanSfm.End()
	if err != nil {
		log.Error("sparse reconstruction failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "sparse_reconstruction: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("sfm").Observe(time.Since(sfmStart).Seconds())

	// Pose conversion: cameras.bin + images.bin -> transforms.json
	convStart := time.Now()
	_, spanConv := tracer.Start(ctx, "convert_poses")
	manifest, err := uc.converter.Convert(
		filepath.Join(sparseModel, "cameras.bin"),
		filepath.Join(sparseModel, "images.bin"),
		datasetDir,
	)
	spanConv.End()
	if err != nil {
		log.Error("pose conversion failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "convert_poses: "+err.Error(), log)
	}
	metrics.JobStageDuration.WithLabelValues("convert").Observe(time.Since(convStart).Seconds())
	metrics.ImagesRegisteredTotal.Add(float64(len(manifest.Frames)))

	// Archive the dataset tree
	arStart := time.Now()
	ctx6, spanAr := tracer.Start(ctx, "archive_dataset")
	archivePath := filepath.Join(workDir, "dataset.zip")
	if err := uc.archiver.CreateZip(ctx6, datasetDir, archivePath); err != nil {
		spanAr.End()
		log.Error("dataset archiving failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "archive_dataset: "+err.Error(), log)
	}
	spanAr.End()
	metrics.JobStageDuration.WithLabelValues("archive").Observe(time.Since(arStart).Seconds())

	// Upload
	upStart := time.Now()
	ctx7, spanUp := tracer.Start(ctx, "upload_dataset")
	datasetKey := fmt.Sprintf("%s/dataset_%s.zip", msg.UserID, job.ID.String())
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_archive: "+err.Error(), log)
	}
	archiveStat, err := archiveFile.Stat()
	if err != nil {
		archiveFile.Close()
		spanUp.End()
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "stat_archive: "+err.Error(), log)
	}
	if err := uc.storage.UploadDataset(ctx7, datasetKey, archiveFile, archiveStat.Size()); err != nil {
		archiveFile.Close()
		spanUp.End()
		log.Error("dataset upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_dataset: "+err.Error(), log)
	}
	archiveFile.Close()
	spanUp.End()
	metrics.JobStageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkCompleted(datasetKey, frameCount, len(manifest.Frames), videoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", frameCount),
		zap.Int("registered_images", len(manifest.Frames)),
		zap.String("dataset_key", datasetKey),
	)

	return nil
}

// prepareImages fills imageDir from the downloaded capture and reports the
// frame count plus the video duration (zero for image captures).
func (uc *ProcessCaptureUseCase) prepareImages(
	ctx context.Context,
	msg entity.CaptureProcessingMessage,
	capturePath string,
	imageDir string,
	log *zap.Logger,
) (int, float64, error) {
	ext := strings.ToLower(filepath.Ext(capturePath))
	switch {
	case videoExtensions[ext]:
		result, err := uc.extractor.ExtractFrames(ctx, capturePath, imageDir, uc.numFramesTarget(msg))
		if err != nil {
			return 0, 0, err
		}
		return result.FrameCount, result.VideoDuration, nil
	case ext == ".zip":
		if err := uc.archiver.ExtractZip(ctx, capturePath, imageDir); err != nil {
			return 0, 0, err
		}
		entries, err := os.ReadDir(imageDir)
		if err != nil {
			return 0, 0, err
		}
		if len(entries) == 0 {
			return 0, 0, fmt.Errorf("capture archive contains no images")
		}
		log.Info("image capture unpacked", zap.Int("count", len(entries)))
		return len(entries), 0, nil
	default:
		return 0, 0, fmt.Errorf("unsupported capture type %q", ext)
	}
}

func (uc *ProcessCaptureUseCase) numFramesTarget(msg entity.CaptureProcessingMessage) int {
	if msg.NumFramesTarget > 0 {
		return msg.NumFramesTarget
	}
	return uc.cfg.NumFramesTarget
}

func (uc *ProcessCaptureUseCase) numDownscales(msg entity.CaptureProcessingMessage) int {
	if msg.NumDownscales > 0 {
		return msg.NumDownscales
	}
	return uc.cfg.NumDownscales
}

func (uc *ProcessCaptureUseCase) cameraModel(msg entity.CaptureProcessingMessage) string {
	cameraType := msg.CameraType
	if cameraType == "" {
		cameraType = uc.cfg.CameraType
	}
	if model, ok := cameraModels[cameraType]; ok {
		return model
	}
	return cameraModels["perspective"]
}

func (uc *ProcessCaptureUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.CaptureProcessingMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessCaptureUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.CaptureProcessingMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.CaptureKey, errMsg)
	}

	return nil
}

func (uc *ProcessCaptureUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.CaptureStatusMessage{
		JobID:            job.ID,
		UserID:           job.UserID,
		Status:           job.Status,
		CaptureKey:       job.CaptureKey,
		DatasetKey:       job.DatasetKey,
		FrameCount:       job.FrameCount,
		RegisteredImages: job.RegisteredImages,
		Duration:         job.VideoDuration,
		ErrorMessage:     job.ErrorMessage,
		Attempt:          job.Attempt,
		MaxAttempts:      job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
