package visualization

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"labelfusion/pkg/imageio"
	"labelfusion/pkg/imaging"
)

// createTestVolume fills a volume with x + 10y + 100z.
func createTestVolume(width, height, depth int) *imaging.Image {
	img := imaging.NewImage(imaging.NewUniformGeometry(width, height, depth))
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(z*width*height+y*width+x, float64(x+10*y+100*z))
			}
		}
	}
	return img
}

// TestNewViewer verifies that only volumes are accepted
func TestNewViewer(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(4, 3, 2), 1)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}
	if viewer.width != 4 || viewer.height != 3 || viewer.depth != 2 {
		t.Errorf("Expected 4x3x2, got %dx%dx%d", viewer.width, viewer.height, viewer.depth)
	}

	if _, err := NewViewer(imaging.NewImage(imaging.NewUniformGeometry(4, 3)), 1); err == nil {
		t.Error("Expected error for 2-d image")
	}
}

// TestExtractSlice verifies slice sizes and values along each axis
func TestExtractSlice(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(4, 3, 2), 2)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		axis       string
		pos        int
		cols, rows int
		c, r       int
		want       float64
	}{
		{"z", 1, 4, 3, 2, 1, 2 * (2 + 10 + 100)},
		{"y", 2, 4, 2, 3, 1, 2 * (3 + 20 + 100)},
		{"x", 3, 2, 3, 1, 2, 2 * (3 + 20 + 100)},
		{"Z", 0, 4, 3, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s%d", tt.axis, tt.pos), func(t *testing.T) {
			slice, err := viewer.ExtractSlice(tt.axis, tt.pos)
			if err != nil {
				t.Fatalf("Failed to extract slice: %v", err)
			}
			size := slice.Geometry().Size
			if size[0] != tt.cols || size[1] != tt.rows {
				t.Errorf("Expected %dx%d slice, got %v", tt.cols, tt.rows, size)
			}
			if got := slice.At(tt.r*tt.cols + tt.c); got != tt.want {
				t.Errorf("Expected %g at (%d,%d), got %g", tt.want, tt.c, tt.r, got)
			}
		})
	}
}

// TestExtractSliceErrors verifies that invalid requests are rejected
func TestExtractSliceErrors(t *testing.T) {
	viewer, _ := NewViewer(createTestVolume(4, 3, 2), 1)

	invalid := []struct {
		axis string
		pos  int
	}{
		{"x", 4}, {"y", 3}, {"z", 2}, {"z", -1}, {"w", 0},
	}
	for _, tt := range invalid {
		if _, err := viewer.ExtractSlice(tt.axis, tt.pos); err == nil {
			t.Errorf("Expected error for axis %s position %d", tt.axis, tt.pos)
		}
	}
}

// TestSaveSliceSequence verifies that one PNG is written per slice
func TestSaveSliceSequence(t *testing.T) {
	viewer, _ := NewViewer(createTestVolume(4, 3, 2), 1)
	dir := t.TempDir()

	for axis, count := range map[string]int{"x": 4, "y": 3, "z": 2} {
		axisDir := filepath.Join(dir, axis)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			t.Fatalf("Failed to save %s slices: %v", axis, err)
		}
		entries, err := os.ReadDir(axisDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != count {
			t.Errorf("Expected %d %s slices, got %d", count, axis, len(entries))
		}
	}

	back, err := imageio.ReadImage(filepath.Join(dir, "z", "slice_z_001.png"))
	if err != nil {
		t.Fatalf("Failed to read slice: %v", err)
	}
	if got := back.At(5); got != 111 {
		t.Errorf("Expected 111 at (1,1) of z slice 1, got %g", got)
	}

	if err := viewer.SaveSliceSequence("q", dir); err == nil {
		t.Error("Expected error for invalid axis")
	}
}

// TestDebugWriter verifies file naming for images and volumes
func TestDebugWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	w, err := NewDebugWriter(dir)
	if err != nil {
		t.Fatal(err)
	}

	flat := imaging.NewImage(imaging.NewUniformGeometry(3, 3))
	flat.Set(4, 65535)
	if err := w.SaveIntermediate("weightedSeg", "a", flat); err != nil {
		t.Fatalf("Failed to save 2-d image: %v", err)
	}
	back, err := imageio.ReadImage(filepath.Join(dir, "weightedSeg-a.png"))
	if err != nil {
		t.Fatal(err)
	}
	if back.At(4) != 65535 {
		t.Errorf("Expected 65535 at the centre, got %g", back.At(4))
	}

	if err := w.SaveIntermediate("deformedAtlasSeg", "b", createTestVolume(4, 3, 2)); err != nil {
		t.Fatalf("Failed to save volume: %v", err)
	}
	for _, name := range []string{"deformedAtlasSeg-b.mgz", "deformedAtlasSeg-b/slice_z_000.png", "deformedAtlasSeg-b/slice_z_001.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
}
