package ffmpeg

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/domain/port"
)

const framePattern = "frame_%05d"

// Extractor converts a video into a numbered image sequence. When the video
// holds more frames than requested it samples evenly via ffmpeg's thumbnail
// filter; otherwise every frame is extracted.
type Extractor struct {
	ffmpeg  port.ToolRunner
	ffprobe port.ToolRunner
	format  string
	logger  *zap.Logger
}

func NewExtractor(ffmpeg, ffprobe port.ToolRunner, format string, logger *zap.Logger) *Extractor {
	return &Extractor{ffmpeg: ffmpeg, ffprobe: ffprobe, format: format, logger: logger}
}

func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, outputDir string, targetFrames int) (*port.FrameExtractionResult, error) {
	numFrames, err := e.countFrames(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("count video frames: %w", err)
	}

	duration, err := e.videoDuration(ctx, videoPath)
	if err != nil {
		e.logger.Warn("could not get video duration", zap.Error(err))
	}

	args := []string{"-i", videoPath}
	spacing := 0
	if targetFrames > 0 {
		spacing = numFrames / targetFrames
	}
	if spacing > 1 {
		args = append(args,
			"-vf", fmt.Sprintf("thumbnail=%d,setpts=N/TB", spacing),
			"-r", "1",
		)
	} else {
		e.logger.Info("requested frame count not reachable, extracting all frames",
			zap.Int("video_frames", numFrames),
			zap.Int("target_frames", targetFrames),
		)
	}
	args = append(args, "-y", filepath.Join(outputDir, framePattern+"."+e.format))

	if _, err := e.ffmpeg.Invoke(ctx, args...); err != nil {
		return nil, err
	}

	frames, err := filepath.Glob(filepath.Join(outputDir, "*."+e.format))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from video")
	}

	e.logger.Info("frames extracted",
		zap.Int("count", len(frames)),
		zap.Int("video_frames", numFrames),
		zap.Float64("video_duration", duration),
	)

	return &port.FrameExtractionResult{
		FramePaths:    frames,
		FrameCount:    len(frames),
		VideoDuration: duration,
	}, nil
}

// countFrames asks ffprobe for the packet count of the first video stream.
func (e *Extractor) countFrames(ctx context.Context, videoPath string) (int, error) {
	out, err := e.ffprobe.Invoke(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		videoPath,
	)
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse frame count %q: %w", strings.TrimSpace(out), err)
	}
	return count, nil
}

func (e *Extractor) videoDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := e.ffprobe.Invoke(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
