package sfm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/domain/port"
)

// defaultVersion is assumed when the COLMAP version line cannot be parsed.
const defaultVersion = 3.8

// Runner drives a full COLMAP sparse reconstruction: feature extraction,
// exhaustive matching and mapping. It implements port.SfMRunner.
type Runner struct {
	colmap port.ToolRunner
	logger *zap.Logger
}

func NewRunner(colmap port.ToolRunner, logger *zap.Logger) *Runner {
	return &Runner{colmap: colmap, logger: logger}
}

func (r *Runner) Reconstruct(ctx context.Context, imageDir string, colmapDir string, opts port.SfMOptions) (string, error) {
	if err := os.MkdirAll(colmapDir, 0755); err != nil {
		return "", fmt.Errorf("create colmap dir: %w", err)
	}

	version := r.version(ctx)
	databasePath := filepath.Join(colmapDir, "database.db")
	gpu := "0"
	if opts.UseGPU {
		gpu = "1"
	}

	_, err := r.colmap.Invoke(ctx,
		"feature_extractor",
		"--database_path", databasePath,
		"--image_path", imageDir,
		"--ImageReader.single_camera", "1",
		"--ImageReader.camera_model", opts.CameraModel,
		"--SiftExtraction.use_gpu", gpu,
	)
	if err != nil {
		return "", fmt.Errorf("feature extraction: %w", err)
	}
	r.logger.Info("colmap features extracted", zap.String("database", databasePath))

	_, err = r.colmap.Invoke(ctx,
		"exhaustive_matcher",
		"--database_path", databasePath,
		"--SiftMatching.use_gpu", gpu,
	)
	if err != nil {
		return "", fmt.Errorf("feature matching: %w", err)
	}
	r.logger.Info("colmap features matched")

	sparseDir := filepath.Join(colmapDir, "sparse")
	if err := os.MkdirAll(sparseDir, 0755); err != nil {
		return "", fmt.Errorf("create sparse dir: %w", err)
	}

	mapperArgs := []string{
		"mapper",
		"--database_path", databasePath,
		"--image_path", imageDir,
		"--output_path", sparseDir,
	}
	if version >= 3.7 {
		mapperArgs = append(mapperArgs, "--Mapper.ba_global_function_tolerance", "1e-6")
	}
	if _, err := r.colmap.Invoke(ctx, mapperArgs...); err != nil {
		return "", fmt.Errorf("bundle adjustment: %w", err)
	}
	r.logger.Info("colmap bundle adjustment done", zap.Float64("colmap_version", version))

	return filepath.Join(sparseDir, "0"), nil
}

// version parses the "COLMAP x.y" banner from a bare invocation. COLMAP may
// not print that line in every release, in which case defaultVersion wins.
func (r *Runner) version(ctx context.Context) float64 {
	out, err := r.colmap.Invoke(ctx, "-h")
	if err != nil {
		// Older builds exit non-zero on -h but still print the banner.
		if out == "" {
			return defaultVersion
		}
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "COLMAP") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if v, err := strconv.ParseFloat(fields[1], 64); err == nil {
					return v
				}
			}
		}
	}
	r.logger.Warn("could not determine colmap version, assuming default",
		zap.Float64("default", defaultVersion))
	return defaultVersion
}
