package sfm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/domain/port"
	"github.com/nerfstudio/capture-processing-service/internal/infra/toolchain/toolchaintest"
)

func fakeColmap(versionBanner string) *toolchaintest.FakeRunner {
	return &toolchaintest.FakeRunner{
		Tool: "colmap",
		Responder: func(args []string) (string, error) {
			if len(args) > 0 && args[0] == "-h" {
				return versionBanner, nil
			}
			return "", nil
		},
	}
}

func TestReconstruct(t *testing.T) {
	colmapDir := filepath.Join(t.TempDir(), "colmap")
	colmap := fakeColmap("COLMAP 3.8 -- Structure-from-Motion\n")

	r := NewRunner(colmap, zap.NewNop())
	sparseModel, err := r.Reconstruct(context.Background(), "/data/images", colmapDir, port.SfMOptions{
		CameraModel: "OPENCV",
		UseGPU:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(colmapDir, "sparse", "0"), sparseModel)

	info, err := os.Stat(filepath.Join(colmapDir, "sparse"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	lines := colmap.CallLines()
	require.Len(t, lines, 4) // version probe + three stages

	assert.Equal(t, "-h", lines[0])

	assert.True(t, strings.HasPrefix(lines[1], "feature_extractor"))
	assert.Contains(t, lines[1], "--ImageReader.single_camera 1")
	assert.Contains(t, lines[1], "--ImageReader.camera_model OPENCV")
	assert.Contains(t, lines[1], "--SiftExtraction.use_gpu 1")
	assert.Contains(t, lines[1], "--image_path /data/images")

	assert.True(t, strings.HasPrefix(lines[2], "exhaustive_matcher"))
	assert.Contains(t, lines[2], "--SiftMatching.use_gpu 1")

	assert.True(t, strings.HasPrefix(lines[3], "mapper"))
	assert.Contains(t, lines[3], "--Mapper.ba_global_function_tolerance 1e-6")
}

func TestReconstructOldColmapSkipsTolerance(t *testing.T) {
	colmap := fakeColmap("COLMAP 3.6\n")

	r := NewRunner(colmap, zap.NewNop())
	_, err := r.Reconstruct(context.Background(), "/data/images", filepath.Join(t.TempDir(), "colmap"), port.SfMOptions{
		CameraModel: "OPENCV",
	})
	require.NoError(t, err)

	lines := colmap.CallLines()
	assert.NotContains(t, lines[3], "ba_global_function_tolerance")
	assert.Contains(t, lines[1], "--SiftExtraction.use_gpu 0")
}

func TestReconstructUnparsableVersionUsesDefault(t *testing.T) {
	colmap := fakeColmap("something unexpected\n")

	r := NewRunner(colmap, zap.NewNop())
	_, err := r.Reconstruct(context.Background(), "/data/images", filepath.Join(t.TempDir(), "colmap"), port.SfMOptions{
		CameraModel: "OPENCV_FISHEYE",
	})
	require.NoError(t, err)

	// Default 3.8 keeps the tolerance flag.
	assert.Contains(t, colmap.CallLines()[3], "ba_global_function_tolerance")
	assert.Contains(t, colmap.CallLines()[1], "--ImageReader.camera_model OPENCV_FISHEYE")
}
