// Package visualization writes images for inspection: axis-aligned slices of
// volumes and the intermediate maps produced while fusing labels.
package visualization

import (
	"fmt"
	"os"
	"path/filepath"

	"labelfusion/pkg/imageio"
	"labelfusion/pkg/imaging"
)

// Viewer extracts 2D slices from a 3D image
type Viewer struct {
	// volume is the image being viewed
	volume *imaging.Image

	// dimensions of the volume
	width  int
	height int
	depth  int

	// scale multiplies every value written to a slice, e.g. 65535 to show
	// similarity maps in [0, 1]
	scale float64
}

// NewViewer creates a viewer for a 3D image. Values are multiplied by scale
// before they are stored as 16-bit slices.
func NewViewer(volume *imaging.Image, scale float64) (*Viewer, error) {
	g := volume.Geometry()
	if g.Dims() != 3 {
		return nil, fmt.Errorf("viewer needs a 3-d image, got %d-d", g.Dims())
	}
	return &Viewer{
		volume: volume,
		width:  g.Size[0],
		height: g.Size[1],
		depth:  g.Size[2],
		scale:  scale,
	}, nil
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// An x slice is depth wide and height high, a y slice width wide and depth
// high, a z slice width wide and height high.
func (v *Viewer) ExtractSlice(axis string, position int) (*imaging.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var (
		cols, rows int
		at         func(c, r int) int
	)
	switch axis {
	case "x", "X":
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		cols, rows = v.depth, v.height
		at = func(z, y int) int { return z*v.width*v.height + y*v.width + position }
	case "y", "Y":
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		cols, rows = v.width, v.depth
		at = func(x, z int) int { return z*v.width*v.height + position*v.width + x }
	case "z", "Z":
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		cols, rows = v.width, v.height
		at = func(x, y int) int { return position*v.width*v.height + y*v.width + x }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	slice := imaging.NewImage(imaging.NewUniformGeometry(cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			slice.Set(r*cols+c, v.volume.At(at(c, r))*v.scale)
		}
	}
	return slice, nil
}

// SaveSlice saves an extracted slice as a 16-bit PNG image
func (v *Viewer) SaveSlice(slice *imaging.Image, filename string) error {
	return imageio.WriteImage(filename, slice)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		slice, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(slice, filename); err != nil {
			return err
		}
	}

	return nil
}
