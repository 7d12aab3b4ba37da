package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_jobs_processed_total",
		Help: "Total number of capture jobs processed, by status",
	}, []string{"status"})

	JobStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capture_job_stage_duration_seconds",
		Help:    "Duration of dataset pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_frames_extracted_total",
		Help: "Total number of frames extracted across all jobs",
	})

	ImagesRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_images_registered_total",
		Help: "Total number of images registered by the sparse reconstruction",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
