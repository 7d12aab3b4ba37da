package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nerfstudio/capture-processing-service/internal/infra/toolchain/toolchaintest"
)

func TestDownscale(t *testing.T) {
	root := t.TempDir()
	imageDir := filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(imageDir, 0o755))

	ffmpeg := &toolchaintest.FakeRunner{Tool: "ffmpeg"}
	d := NewDownscaler(ffmpeg, "png", zap.NewNop())

	dirs, err := d.Downscale(context.Background(), imageDir, 3)
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "images_2"),
		filepath.Join(root, "images_4"),
		filepath.Join(root, "images_8"),
	}
	assert.Equal(t, want, dirs)
	for _, dir := range want {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	lines := ffmpeg.CallLines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "scale=iw/2:ih/2")
	assert.Contains(t, lines[1], "scale=iw/4:ih/4")
	assert.Contains(t, lines[2], "scale=iw/8:ih/8")
	assert.Contains(t, lines[0], filepath.Join(imageDir, "*.png"))
}

func TestDownscaleZeroFactors(t *testing.T) {
	ffmpeg := &toolchaintest.FakeRunner{Tool: "ffmpeg"}
	d := NewDownscaler(ffmpeg, "png", zap.NewNop())

	dirs, err := d.Downscale(context.Background(), filepath.Join(t.TempDir(), "images"), 0)
	require.NoError(t, err)
	assert.Empty(t, dirs)
	assert.Empty(t, ffmpeg.Calls)
}
