package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/domain/port"
)

// Downscaler writes, for each factor 2, 4, ..., 2^numDownscales, a sibling
// directory of imageDir named images_<factor> holding the scaled copies.
type Downscaler struct {
	ffmpeg port.ToolRunner
	format string
	logger *zap.Logger
}

func NewDownscaler(ffmpeg port.ToolRunner, format string, logger *zap.Logger) *Downscaler {
	return &Downscaler{ffmpeg: ffmpeg, format: format, logger: logger}
}

func (d *Downscaler) Downscale(ctx context.Context, imageDir string, numDownscales int) ([]string, error) {
	parent := filepath.Dir(imageDir)
	dirs := make([]string, 0, numDownscales)

	for i := 1; i <= numDownscales; i++ {
		factor := 1 << i
		downscaleDir := filepath.Join(parent, fmt.Sprintf("images_%d", factor))
		if err := os.MkdirAll(downscaleDir, 0755); err != nil {
			return nil, fmt.Errorf("create downscale dir: %w", err)
		}

		_, err := d.ffmpeg.Invoke(ctx,
			"-y",
			"-pattern_type", "glob",
			"-i", filepath.Join(imageDir, "*."+d.format),
			"-vf", fmt.Sprintf("scale=iw/%d:ih/%d", factor, factor),
			filepath.Join(downscaleDir, framePattern+"."+d.format),
		)
		if err != nil {
			return nil, fmt.Errorf("downscale by %d: %w", factor, err)
		}

		d.logger.Info("images downscaled", zap.Int("factor", factor), zap.String("dir", downscaleDir))
		dirs = append(dirs, downscaleDir)
	}

	return dirs, nil
}
