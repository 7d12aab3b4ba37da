package colmap

import (
	"fmt"
	"os"
)

// point2DSize is the wire size of one keypoint observation: x, y (float64)
// plus the 3D point id (int64). The observations are not needed for pose
// extraction and are skipped wholesale.
const point2DSize = 8 + 8 + 8

// Image is one record from images.bin: the registered pose of a single
// source image. Qvec is the world-to-camera rotation as a unit quaternion in
// [w, x, y, z] order; Tvec is the world-to-camera translation.
type Image struct {
	ID       int32
	Qvec     [4]float64
	Tvec     [3]float64
	CameraID int32
	Name     string
}

// ReadImagesBinary decodes a COLMAP images.bin file. Images are returned in
// file order so that downstream output is reproducible.
func ReadImagesBinary(path string) ([]Image, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c := &cursor{buf: buf}

	count, err := c.uint64()
	if err != nil {
		return nil, err
	}
	// An image record is at least id, qvec, tvec, camera id, an empty
	// NUL-terminated name and the keypoint count.
	const minImageRecordSize = 4 + 4*8 + 3*8 + 4 + 1 + 8
	if count > uint64(c.remaining())/minImageRecordSize {
		return nil, &DecodeError{
			Offset: 0,
			Reason: fmt.Sprintf("image count %d exceeds file size", count),
		}
	}

	images := make([]Image, 0, count)
	for i := uint64(0); i < count; i++ {
		var img Image
		if img.ID, err = c.int32(); err != nil {
			return nil, err
		}
		for j := range img.Qvec {
			if img.Qvec[j], err = c.float64(); err != nil {
				return nil, err
			}
		}
		for j := range img.Tvec {
			if img.Tvec[j], err = c.float64(); err != nil {
				return nil, err
			}
		}
		if img.CameraID, err = c.int32(); err != nil {
			return nil, err
		}
		if img.Name, err = c.cstring(); err != nil {
			return nil, err
		}
		numPoints2D, err := c.uint64()
		if err != nil {
			return nil, err
		}
		if numPoints2D > uint64(c.remaining())/point2DSize {
			return nil, &DecodeError{
				Offset: c.off,
				Reason: fmt.Sprintf("image %d: keypoint count %d exceeds remaining data", img.ID, numPoints2D),
			}
		}
		if err := c.skip(int(numPoints2D) * point2DSize); err != nil {
			return nil, err
		}
		images = append(images, img)
	}

	return images, nil
}
