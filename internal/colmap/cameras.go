package colmap

import (
	"fmt"
	"os"
)

// CameraModel is COLMAP's camera model identifier.
type CameraModel int32

const (
	SimplePinhole CameraModel = iota
	Pinhole
	SimpleRadial
	Radial
	OpenCV
	OpenCVFisheye
	FullOpenCV
	FOV
	SimpleRadialFisheye
	RadialFisheye
	ThinPrismFisheye
)

var modelNames = map[CameraModel]string{
	SimplePinhole:       "SIMPLE_PINHOLE",
	Pinhole:             "PINHOLE",
	SimpleRadial:        "SIMPLE_RADIAL",
	Radial:              "RADIAL",
	OpenCV:              "OPENCV",
	OpenCVFisheye:       "OPENCV_FISHEYE",
	FullOpenCV:          "FULL_OPENCV",
	FOV:                 "FOV",
	SimpleRadialFisheye: "SIMPLE_RADIAL_FISHEYE",
	RadialFisheye:       "RADIAL_FISHEYE",
	ThinPrismFisheye:    "THIN_PRISM_FISHEYE",
}

// modelNumParams drives the variable-length tail of each camera record.
var modelNumParams = map[CameraModel]int{
	SimplePinhole:       3,
	Pinhole:             4,
	SimpleRadial:        4,
	Radial:              5,
	OpenCV:              8,
	OpenCVFisheye:       8,
	FullOpenCV:          12,
	FOV:                 5,
	SimpleRadialFisheye: 4,
	RadialFisheye:       5,
	ThinPrismFisheye:    12,
}

func (m CameraModel) String() string {
	if s, ok := modelNames[m]; ok {
		return s
	}
	return fmt.Sprintf("CameraModel(%d)", int32(m))
}

// Camera is one record from cameras.bin.
type Camera struct {
	ID     int32
	Model  CameraModel
	Width  uint64
	Height uint64
	Params []float64
}

// ReadCamerasBinary decodes a COLMAP cameras.bin file. Cameras are returned
// in file order.
func ReadCamerasBinary(path string) ([]Camera, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c := &cursor{buf: buf}

	count, err := c.uint64()
	if err != nil {
		return nil, err
	}
	// A camera record is at least id, model, width, height plus three params.
	const minCameraRecordSize = 4 + 4 + 8 + 8 + 3*8
	if count > uint64(c.remaining())/minCameraRecordSize {
		return nil, &DecodeError{
			Offset: 0,
			Reason: fmt.Sprintf("camera count %d exceeds file size", count),
		}
	}

	cameras := make([]Camera, 0, count)
	for i := uint64(0); i < count; i++ {
		var cam Camera
		recordStart := c.off
		if cam.ID, err = c.int32(); err != nil {
			return nil, err
		}
		var modelID int32
		if modelID, err = c.int32(); err != nil {
			return nil, err
		}
		cam.Model = CameraModel(modelID)
		numParams, ok := modelNumParams[cam.Model]
		if !ok {
			return nil, &DecodeError{
				Offset: recordStart,
				Reason: fmt.Sprintf("camera %d: unknown model id %d", cam.ID, modelID),
			}
		}
		if cam.Width, err = c.uint64(); err != nil {
			return nil, err
		}
		if cam.Height, err = c.uint64(); err != nil {
			return nil, err
		}
		if cam.Params, err = c.float64s(numParams); err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}

	return cameras, nil
}
