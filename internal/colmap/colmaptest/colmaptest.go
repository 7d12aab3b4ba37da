// Package colmaptest builds synthetic COLMAP binary files for tests.
package colmaptest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerfstudio/capture-processing-service/internal/colmap"
)

type Point2D struct {
	X, Y    float64
	Point3D int64
}

// ImageRecord mirrors one images.bin record, including the keypoint
// observations that the decoder skips.
type ImageRecord struct {
	Image  colmap.Image
	Points []Point2D
}

func EncodeCameras(t *testing.T, cameras ...colmap.Camera) []byte {
	t.Helper()
	var buf bytes.Buffer
	write(t, &buf, uint64(len(cameras)))
	for _, cam := range cameras {
		write(t, &buf, cam.ID)
		write(t, &buf, int32(cam.Model))
		write(t, &buf, cam.Width)
		write(t, &buf, cam.Height)
		for _, p := range cam.Params {
			write(t, &buf, p)
		}
	}
	return buf.Bytes()
}

func EncodeImages(t *testing.T, records ...ImageRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	write(t, &buf, uint64(len(records)))
	for _, rec := range records {
		write(t, &buf, rec.Image.ID)
		for _, q := range rec.Image.Qvec {
			write(t, &buf, q)
		}
		for _, v := range rec.Image.Tvec {
			write(t, &buf, v)
		}
		write(t, &buf, rec.Image.CameraID)
		buf.WriteString(rec.Image.Name)
		buf.WriteByte(0)
		write(t, &buf, uint64(len(rec.Points)))
		for _, p := range rec.Points {
			write(t, &buf, p.X)
			write(t, &buf, p.Y)
			write(t, &buf, p.Point3D)
		}
	}
	return buf.Bytes()
}

// WriteCameras writes an encoded cameras.bin into dir and returns its path.
func WriteCameras(t *testing.T, dir string, cameras ...colmap.Camera) string {
	t.Helper()
	path := filepath.Join(dir, "cameras.bin")
	require.NoError(t, os.WriteFile(path, EncodeCameras(t, cameras...), 0o644))
	return path
}

// WriteImages writes an encoded images.bin into dir and returns its path.
func WriteImages(t *testing.T, dir string, records ...ImageRecord) string {
	t.Helper()
	path := filepath.Join(dir, "images.bin")
	require.NoError(t, os.WriteFile(path, EncodeImages(t, records...), 0o644))
	return path
}

func write(t *testing.T, buf *bytes.Buffer, v any) {
	t.Helper()
	require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
}
