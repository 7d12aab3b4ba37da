package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCreateZipKeepsTree(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "transforms.json"), "{}")
	writeFile(t, filepath.Join(src, "images", "frame_00001.png"), "a")
	writeFile(t, filepath.Join(src, "images_2", "frame_00001.png"), "b")
	writeFile(t, filepath.Join(src, "colmap", "sparse", "0", "cameras.bin"), "c")

	zipPath := filepath.Join(t.TempDir(), "dataset.zip")
	z := NewZipper()
	require.NoError(t, z.CreateZip(context.Background(), src, zipPath))

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"colmap/sparse/0/cameras.bin",
		"images/frame_00001.png",
		"images_2/frame_00001.png",
		"transforms.json",
	}, names)
}

func TestExtractZipFlattens(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "shoot", "img001.jpg"), "x")
	writeFile(t, filepath.Join(src, "shoot", "nested", "img002.jpg"), "y")

	zipPath := filepath.Join(t.TempDir(), "capture.zip")
	z := NewZipper()
	require.NoError(t, z.CreateZip(context.Background(), src, zipPath))

	dest := t.TempDir()
	require.NoError(t, z.ExtractZip(context.Background(), zipPath, dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"img001.jpg", "img002.jpg"}, names)

	data, err := os.ReadFile(filepath.Join(dest, "img001.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestCreateZipCancelled(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	z := NewZipper()
	err := z.CreateZip(ctx, src, filepath.Join(t.TempDir(), "out.zip"))
	assert.ErrorIs(t, err, context.Canceled)
}
