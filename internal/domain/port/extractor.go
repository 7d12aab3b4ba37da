package port

import "context"

type FrameExtractionResult struct {
	FramePaths    []string
	FrameCount    int
	VideoDuration float64
}

type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, outputDir string, targetFrames int) (*FrameExtractionResult, error)
}

// Downscaler produces, per power-of-two factor, a sibling directory of the
// image dir scaled down by that factor (images_2, images_4, ...).
type Downscaler interface {
	Downscale(ctx context.Context, imageDir string, numDownscales int) ([]string, error)
}
