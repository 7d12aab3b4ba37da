package port

import "context"

// Archiver packs a finished dataset tree into a zip and unpacks zipped image
// captures.
type Archiver interface {
	CreateZip(ctx context.Context, srcDir string, outputPath string) error
	ExtractZip(ctx context.Context, zipPath string, destDir string) error
}
