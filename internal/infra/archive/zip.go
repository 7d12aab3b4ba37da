package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Zipper packs dataset trees into zip archives and unpacks zipped image
// captures. Entry names inside an archive are relative to the packed root so
// the directory layout (images/, images_2/, colmap/, transforms.json)
// survives the round trip.
type Zipper struct{}

func NewZipper() *Zipper {
	return &Zipper{}
}

func (z *Zipper) CreateZip(ctx context.Context, srcDir string, outputPath string) error {
	zipFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)
	defer zipWriter.Close()

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if err := addFileToZip(zipWriter, path, filepath.ToSlash(rel)); err != nil {
			return fmt.Errorf("add %s to zip: %w", rel, err)
		}
		return nil
	})
}

func (z *Zipper) ExtractZip(ctx context.Context, zipPath string, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	for _, f := range reader.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Flatten to base names: zipped captures may carry an arbitrary
		// folder prefix, while the pipeline expects a flat image dir.
		name := filepath.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if err := extractFileFromZip(f, filepath.Join(destDir, name)); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, filename, entryName string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = entryName
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}

func extractFileFromZip(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
