package integration

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/nerfstudio/capture-processing-service/internal/domain/entity"
	"github.com/nerfstudio/capture-processing-service/internal/infra/archive"
	"github.com/nerfstudio/capture-processing-service/internal/infra/email"
	"github.com/nerfstudio/capture-processing-service/internal/infra/ffmpeg"
	miniostorage "github.com/nerfstudio/capture-processing-service/internal/infra/minio"
	"github.com/nerfstudio/capture-processing-service/internal/infra/postgres"
	"github.com/nerfstudio/capture-processing-service/internal/infra/rabbitmq"
	"github.com/nerfstudio/capture-processing-service/internal/infra/sfm"
	"github.com/nerfstudio/capture-processing-service/internal/infra/toolchain"
	"github.com/nerfstudio/capture-processing-service/internal/nerf"
	"github.com/nerfstudio/capture-processing-service/internal/usecase"
	"github.com/nerfstudio/capture-processing-service/pkg/logger"
)

func requireToolchain(t *testing.T) {
	t.Helper()
	for _, tool := range []string{"ffmpeg", "ffprobe", "colmap"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed, skipping integration test", tool)
		}
	}
}

func TestProcessCaptureEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	requireToolchain(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// Setup MinIO storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      minioEndpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		UseSSL:        false,
		CaptureBucket: "captures",
		DatasetBucket: "datasets",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	// Upload test capture to MinIO
	testCapturePath := filepath.Join("..", "testdata", "capture.mp4")
	if _, err := os.Stat(testCapturePath); os.IsNotExist(err) {
		t.Skip("test capture not found at tests/testdata/capture.mp4 - record a short clip of a textured scene (synthetic test patterns do not reconstruct)")
	}

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	captureKey := "testuser/capture.mp4"
	_, err = minioClient.FPutObject(ctx, "captures", captureKey, testCapturePath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	// Setup RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "nerfstudio.capture", "capture.processing.dlq")
	require.NoError(t, err)

	// Setup DB pool
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	// Setup use case
	log, _ := logger.New("debug")
	repo := postgres.NewJobRepository(pool)
	ffmpegBin := toolchain.NewBinary("ffmpeg")
	ffprobeBin := toolchain.NewBinary("ffprobe")
	colmapBin := toolchain.NewBinary("colmap")
	extractor := ffmpeg.NewExtractor(ffmpegBin, ffprobeBin, "png", log)
	downscaler := ffmpeg.NewDownscaler(ffmpegBin, "png", log)
	sfmRunner := sfm.NewRunner(colmapBin, log)
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewProcessCaptureUseCase(
		repo, storage, extractor, downscaler, sfmRunner, archive.NewZipper(),
		&nerf.Converter{}, pub, pub, notifier,
		log,
		usecase.ProcessCaptureConfig{
			TempDir:         t.TempDir(),
			MaxRetries:      3,
			NumFramesTarget: 60,
			NumDownscales:   1,
			CameraType:      "perspective",
			UseGPU:          false,
		},
	)

	// Setup consumer
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "capture.processing",
		Exchange:    "nerfstudio.capture",
		DLQ:         "capture.processing.dlq",
		StatusQueue: "capture.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	// Start consumer in background
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)

	// Publish processing message
	jobID := uuid.New()
	captureInfo, _ := os.Stat(testCapturePath)
	processingMsg := entity.CaptureProcessingMessage{
		JobID:      jobID,
		UserID:     "testuser",
		CaptureKey: captureKey,
		FileSize:   captureInfo.Size(),
		UserEmail:  "test@test.local",
	}
	msgBody, err := json.Marshal(processingMsg)
	require.NoError(t, err)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"nerfstudio.capture",
		"capture.processing",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msgBody,
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait for status message on capture.status queue
	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()

	statusMsgs, err := statusCh.Consume("capture.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var statusMsg entity.CaptureStatusMessage
	select {
	case delivery := <-statusMsgs:
		err = json.Unmarshal(delivery.Body, &statusMsg)
		require.NoError(t, err)
	case <-time.After(10 * time.Minute):
		t.Fatal("timeout waiting for status message")
	}

	// Assert status
	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, entity.JobStatusCompleted, statusMsg.Status)
	assert.Greater(t, statusMsg.FrameCount, 0)
	assert.Greater(t, statusMsg.RegisteredImages, 0)
	assert.NotEmpty(t, statusMsg.DatasetKey)

	// Verify dataset archive exists in MinIO and carries the manifest
	datasetObj, err := minioClient.GetObject(ctx, "datasets", statusMsg.DatasetKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)

	tmpZip := filepath.Join(t.TempDir(), "dataset.zip")
	tmpFile, err := os.Create(tmpZip)
	require.NoError(t, err)
	_, err = tmpFile.ReadFrom(datasetObj)
	require.NoError(t, err)
	tmpFile.Close()

	zipReader, err := zip.OpenReader(tmpZip)
	require.NoError(t, err)
	defer zipReader.Close()

	var manifestFile *zip.File
	imageCount := 0
	downscaled := false
	for _, f := range zipReader.File {
		switch {
		case f.Name == "transforms.json":
			manifestFile = f
		case filepath.Dir(f.Name) == "images":
			imageCount++
		case filepath.Dir(f.Name) == "images_2":
			downscaled = true
		}
	}
	require.NotNil(t, manifestFile, "dataset must contain transforms.json")
	assert.Greater(t, imageCount, 0)
	assert.True(t, downscaled, "dataset must contain an images_2 downscale pass")

	rc, err := manifestFile.Open()
	require.NoError(t, err)
	defer rc.Close()

	var manifest nerf.Manifest
	require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
	assert.Greater(t, manifest.W, uint64(0))
	assert.Greater(t, manifest.H, uint64(0))
	assert.Equal(t, statusMsg.RegisteredImages, len(manifest.Frames))
	for _, frame := range manifest.Frames {
		require.Len(t, frame.TransformMatrix, 4)
		assert.Equal(t, []float64{0, 0, 0, 1}, frame.TransformMatrix[3])
	}

	// Verify job record in database
	var dbStatus string
	var dbRegistered int
	err = pool.QueryRow(ctx,
		"SELECT status, registered_images FROM dataset_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbRegistered)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", dbStatus)
	assert.Equal(t, statusMsg.RegisteredImages, dbRegistered)

	consumerCancel()

	t.Logf("Test passed: %d images registered, dataset at %s", statusMsg.RegisteredImages, statusMsg.DatasetKey)
}

func TestProcessCaptureMalformedMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	requireToolchain(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("jobs"),
		tcpostgres.WithUsername("job_user"),
		tcpostgres.WithPassword("job_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      minioEndpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		UseSSL:        false,
		CaptureBucket: "captures",
		DatasetBucket: "datasets",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	log, _ := logger.New("debug")
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "nerfstudio.capture", "capture.processing.dlq")
	require.NoError(t, err)

	repo := postgres.NewJobRepository(pool)
	ffmpegBin := toolchain.NewBinary("ffmpeg")
	ffprobeBin := toolchain.NewBinary("ffprobe")
	colmapBin := toolchain.NewBinary("colmap")
	extractor := ffmpeg.NewExtractor(ffmpegBin, ffprobeBin, "png", log)
	downscaler := ffmpeg.NewDownscaler(ffmpegBin, "png", log)
	sfmRunner := sfm.NewRunner(colmapBin, log)
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewProcessCaptureUseCase(
		repo, storage, extractor, downscaler, sfmRunner, archive.NewZipper(),
		&nerf.Converter{}, pub, pub, notifier,
		log,
		usecase.ProcessCaptureConfig{
			TempDir:    t.TempDir(),
			MaxRetries: 3,
		},
	)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "capture.processing",
		Exchange:    "nerfstudio.capture",
		DLQ:         "capture.processing.dlq",
		StatusQueue: "capture.status",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()
	time.Sleep(500 * time.Millisecond)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"nerfstudio.capture",
		"capture.processing",
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(`{invalid json`),
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	time.Sleep(2 * time.Second)

	dlqCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	dlqMsg, ok, err := dlqCh.Get("capture.processing.dlq", true)
	require.NoError(t, err)
	assert.True(t, ok, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))

	consumerCancel()
	t.Log("Test passed: malformed message sent to DLQ")
}
