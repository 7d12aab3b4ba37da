package entity

import "github.com/google/uuid"

// CaptureProcessingMessage is the inbound message from the capture.processing
// queue. The pipeline knobs are optional; zero values fall back to the worker
// configuration.
type CaptureProcessingMessage struct {
	JobID           uuid.UUID `json:"job_id"`
	UserID          string    `json:"user_id"`
	CaptureKey      string    `json:"capture_key"`
	FileSize        int64     `json:"file_size"`
	UserEmail       string    `json:"user_email"`
	NumFramesTarget int       `json:"num_frames_target,omitempty"`
	NumDownscales   int       `json:"num_downscales,omitempty"`
	CameraType      string    `json:"camera_type,omitempty"` // "perspective" or "fisheye"
}

// CaptureStatusMessage is the outbound message published to the capture.status
// queue.
type CaptureStatusMessage struct {
	JobID            uuid.UUID `json:"job_id"`
	UserID           string    `json:"user_id"`
	Status           JobStatus `json:"status"`
	CaptureKey       string    `json:"capture_key"`
	DatasetKey       string    `json:"dataset_key,omitempty"`
	FrameCount       int       `json:"frame_count,omitempty"`
	RegisteredImages int       `json:"registered_images,omitempty"`
	Duration         float64   `json:"duration_seconds,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Attempt          int       `json:"attempt"`
	MaxAttempts      int       `json:"max_attempts"`
}
