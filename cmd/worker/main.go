package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/infra/archive"
	"github.com/nerfstudio/capture-processing-service/internal/infra/config"
	"github.com/nerfstudio/capture-processing-service/internal/infra/email"
	"github.com/nerfstudio/capture-processing-service/internal/infra/ffmpeg"
	"github.com/nerfstudio/capture-processing-service/internal/infra/metrics"
	miniostorage "github.com/nerfstudio/capture-processing-service/internal/infra/minio"
	"github.com/nerfstudio/capture-processing-service/internal/infra/postgres"
	"github.com/nerfstudio/capture-processing-service/internal/infra/rabbitmq"
	"github.com/nerfstudio/capture-processing-service/internal/infra/sfm"
	"github.com/nerfstudio/capture-processing-service/internal/infra/toolchain"
	"github.com/nerfstudio/capture-processing-service/internal/infra/tracing"
	"github.com/nerfstudio/capture-processing-service/internal/nerf"
	"github.com/nerfstudio/capture-processing-service/internal/usecase"
	"github.com/nerfstudio/capture-processing-service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting capture-processing-service")

	// External toolchain must be complete before any message is consumed.
	ffmpegBin := toolchain.NewBinaryWithHint("ffmpeg", "see https://ffmpeg.org/download.html")
	ffprobeBin := toolchain.NewBinaryWithHint("ffprobe", "ships with ffmpeg")
	colmapBin := toolchain.NewBinaryWithHint("colmap", "see https://colmap.github.io/install.html")
	for _, tool := range []*toolchain.Binary{ffmpegBin, ffprobeBin, colmapBin} {
		fatalOnErr(tool.CheckAvailable(), "check toolchain")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, "migrations")
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		CaptureBucket: cfg.MinIOCaptureBucket,
		DatasetBucket: cfg.MinIODatasetBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange, cfg.RabbitMQDLQ)
	fatalOnErr(err, "create rabbitmq publisher")

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	extractor := ffmpeg.NewExtractor(ffmpegBin, ffprobeBin, cfg.FrameFormat, log)
	downscaler := ffmpeg.NewDownscaler(ffmpegBin, cfg.FrameFormat, log)
	sfmRunner := sfm.NewRunner(colmapBin, log)
	archiver := archive.NewZipper()
	converter := &nerf.Converter{}
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewProcessCaptureUseCase(
		repo, storage, extractor, downscaler, sfmRunner, archiver, converter,
		pub, pub, notifier,
		log,
		usecase.ProcessCaptureConfig{
			TempDir:         cfg.TempDir,
			MaxRetries:      cfg.MaxRetries,
			NumFramesTarget: cfg.NumFramesTarget,
			NumDownscales:   cfg.NumDownscales,
			CameraType:      cfg.CameraType,
			UseGPU:          cfg.ColmapUseGPU,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQProcessingQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("capture-processing-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("capture-processing-service stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
