package visualization

import (
	"fmt"
	"os"
	"path/filepath"

	"labelfusion/pkg/imageio"
	"labelfusion/pkg/imaging"
)

// DebugWriter stores intermediate images under a directory as
// "<stage>-<id>.png". Volumes are stored as "<stage>-<id>.mgz" together
// with a directory of z slices.
type DebugWriter struct {
	dir string
}

// NewDebugWriter creates dir if needed.
func NewDebugWriter(dir string) (*DebugWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create debug directory: %w", err)
	}
	return &DebugWriter{dir: dir}, nil
}

// Dir returns the output directory.
func (w *DebugWriter) Dir() string { return w.dir }

// SaveIntermediate writes img for the given stage and image id.
func (w *DebugWriter) SaveIntermediate(stage, id string, img *imaging.Image) error {
	name := stage + "-" + id
	if img.Geometry().Dims() != 3 {
		return imageio.WriteImage(filepath.Join(w.dir, name+".png"), img)
	}

	if err := imageio.WriteImage(filepath.Join(w.dir, name+".mgz"), img); err != nil {
		return err
	}
	viewer, err := NewViewer(img, 1)
	if err != nil {
		return err
	}
	return viewer.SaveSliceSequence("z", filepath.Join(w.dir, name))
}
