package port

import "context"

type SfMOptions struct {
	CameraModel string // COLMAP camera model name, e.g. OPENCV
	UseGPU      bool
}

// SfMRunner runs the structure-from-motion reconstruction over an image
// directory and returns the sparse model directory holding cameras.bin and
// images.bin.
type SfMRunner interface {
	Reconstruct(ctx context.Context, imageDir string, colmapDir string, opts SfMOptions) (string, error)
}
