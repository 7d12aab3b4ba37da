package nerf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/nerfstudio/capture-processing-service/internal/colmap"
)

// ManifestName is the fixed output filename inside the dataset root.
const ManifestName = "transforms.json"

// UnknownCameraError reports an image record that references a camera id
// absent from the camera file, or a missing intrinsics camera.
type UnknownCameraError struct {
	ImageID  int32
	CameraID int32

	// Intrinsics marks the missing dataset intrinsics camera rather than a
	// frame referencing an unknown camera. Image ids carry no reserved
	// values, so a flag keeps id 0 unambiguous.
	Intrinsics bool
}

func (e *UnknownCameraError) Error() string {
	if e.Intrinsics {
		return fmt.Sprintf("nerf: intrinsics camera %d not present in camera file", e.CameraID)
	}
	return fmt.Sprintf("nerf: image %d references unknown camera %d", e.ImageID, e.CameraID)
}

// Frame is one per-image entry in the manifest.
type Frame struct {
	FilePath        string      `json:"file_path"`
	TransformMatrix [][]float64 `json:"transform_matrix"`
}

// Manifest is the transforms.json document: shared intrinsics plus one
// camera-to-world transform per registered image. Field order is the JSON
// key order.
type Manifest struct {
	FlX    float64 `json:"fl_x"`
	FlY    float64 `json:"fl_y"`
	K1     float64 `json:"k1"`
	K2     float64 `json:"k2"`
	P1     float64 `json:"p1"`
	P2     float64 `json:"p2"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	W      uint64  `json:"w"`
	H      uint64  `json:"h"`
	Frames []Frame `json:"frames"`
}

// Converter turns COLMAP's binary reconstruction output into a Manifest.
//
// The whole dataset is assumed to share one camera: intrinsics are taken
// from CameraID alone and any other camera records are ignored. COLMAP is
// run with --ImageReader.single_camera 1 upstream, so this holds for every
// reconstruction we produce ourselves.
type Converter struct {
	// CameraID selects the intrinsics source. Zero means camera 1.
	CameraID int32
}

func (c *Converter) cameraID() int32 {
	if c.CameraID == 0 {
		return 1
	}
	return c.CameraID
}

// Build assembles a manifest from decoded records. Frames follow the image
// record order, so identical inputs always produce identical manifests.
func (c *Converter) Build(cameras []colmap.Camera, images []colmap.Image) (*Manifest, error) {
	byID := make(map[int32]colmap.Camera, len(cameras))
	for _, cam := range cameras {
		if _, ok := byID[cam.ID]; !ok {
			byID[cam.ID] = cam
		}
	}

	cam, ok := byID[c.cameraID()]
	if !ok {
		return nil, &UnknownCameraError{CameraID: c.cameraID(), Intrinsics: true}
	}
	if len(cam.Params) < 8 {
		return nil, fmt.Errorf("nerf: camera %d model %s has %d params, need fx fy cx cy k1 k2 p1 p2",
			cam.ID, cam.Model, len(cam.Params))
	}

	m := &Manifest{
		FlX:    cam.Params[0],
		FlY:    cam.Params[1],
		K1:     cam.Params[4],
		K2:     cam.Params[5],
		P1:     cam.Params[6],
		P2:     cam.Params[7],
		Cx:     cam.Params[2],
		Cy:     cam.Params[3],
		W:      cam.Width,
		H:      cam.Height,
		Frames: make([]Frame, 0, len(images)),
	}

	for _, img := range images {
		if _, ok := byID[img.CameraID]; !ok {
			return nil, &UnknownCameraError{ImageID: img.ID, CameraID: img.CameraID}
		}
		w2c := WorldToCamera(QvecToRotation(img.Qvec), img.Tvec)
		c2w := CorrectConvention(InvertRigid(w2c))
		m.Frames = append(m.Frames, Frame{
			FilePath:        "./images/" + img.Name,
			TransformMatrix: matrixRows(c2w),
		})
	}

	return m, nil
}

// Convert decodes the two binary files and writes transforms.json into
// outputDir. The manifest is written atomically and only after every record
// decoded cleanly; a failed conversion leaves no output file behind.
func (c *Converter) Convert(camerasPath, imagesPath, outputDir string) (*Manifest, error) {
	cameras, err := colmap.ReadCamerasBinary(camerasPath)
	if err != nil {
		return nil, fmt.Errorf("decode cameras: %w", err)
	}
	images, err := colmap.ReadImagesBinary(imagesPath)
	if err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}

	m, err := c.Build(cameras, images)
	if err != nil {
		return nil, err
	}
	if err := WriteManifest(m, outputDir); err != nil {
		return nil, err
	}
	return m, nil
}

// WriteManifest serializes the manifest into outputDir/transforms.json via a
// temp file and rename.
func WriteManifest(m *Manifest, outputDir string) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(outputDir, ManifestName+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(outputDir, ManifestName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

func matrixRows(m *mat.Dense) [][]float64 {
	r, cols := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, cols)
		mat.Row(row, i, m)
		rows[i] = row
	}
	return rows
}
