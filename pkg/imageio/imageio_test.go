package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"labelfusion/pkg/imaging"
)

// createTestImage creates an image whose value at linear position i is
// pattern(i).
func createTestImage(t *testing.T, g *imaging.Geometry, pattern func(i int) float64) *imaging.Image {
	t.Helper()
	img := imaging.NewImage(g)
	for i := range img.Pix {
		img.Pix[i] = pattern(i)
	}
	return img
}

func TestRasterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := createTestImage(t, imaging.NewUniformGeometry(5, 3), func(i int) float64 {
		return float64(i * 4000)
	})

	for _, name := range []string{"seg.png", "seg.tif", "seg.tiff"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteImage(path, img))

			back, err := ReadImage(path)
			require.NoError(t, err)
			assert.True(t, back.Geometry().SameSize(img.Geometry()))
			assert.Equal(t, img.Pix, back.Pix)
		})
	}
}

func TestRasterClampsAndRounds(t *testing.T) {
	g := imaging.NewUniformGeometry(3, 1)
	img, err := imaging.NewImageFrom(g, []float64{-5, 1.6, 70000})
	require.NoError(t, err)

	raster, err := ToRaster(img)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), raster.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(2), raster.Gray16At(1, 0).Y)
	assert.Equal(t, uint16(65535), raster.Gray16At(2, 0).Y)

	_, err = ToRaster(imaging.NewImage(imaging.NewUniformGeometry(2, 2, 2)))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestEightBitPNGKeepsRawValues(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(0, 0, color.Gray{Y: 17})
	src.SetGray(1, 0, color.Gray{Y: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	path := filepath.Join(t.TempDir(), "eight.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	img, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{17, 255}, img.Pix)
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := ReadImage("image.jpg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = ReadDeformation("field.png")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	err = WriteImage(filepath.Join(t.TempDir(), "x.bmp"), imaging.NewImage(imaging.NewUniformGeometry(1, 1)))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestMGHImageRoundTrip(t *testing.T) {
	dir := mat.NewDense(3, 3, []float64{-1, 0, 0, 0, 0, 1, 0, -1, 0})
	g, err := imaging.NewGeometry([]int{4, 3, 2}, []float64{1, 1.5, 2}, []float64{10, -4, 3}, dir)
	require.NoError(t, err)
	img := createTestImage(t, g, func(i int) float64 { return float64(i) - 3.5 })

	for _, name := range []string{"vol.mgh", "vol.mgz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteImage(path, img))

			back, err := ReadImage(path)
			require.NoError(t, err)
			bg := back.Geometry()
			assert.Equal(t, g.Size, bg.Size)
			assert.InDeltaSlice(t, g.Spacing, bg.Spacing, 1e-6)
			assert.InDeltaSlice(t, g.Origin, bg.Origin, 1e-4)
			assert.True(t, mat.EqualApprox(g.Direction, bg.Direction, 1e-6))
			assert.Equal(t, img.Pix, back.Pix)
		})
	}
}

func TestMGHDeformationRoundTrip(t *testing.T) {
	g := imaging.NewUniformGeometry(3, 2)
	def := imaging.NewDeformationField(g)
	for i := 0; i < def.Len(); i++ {
		def.SetDisplacement(i, []float64{float64(i), -0.5 * float64(i)})
	}

	path := filepath.Join(t.TempDir(), "def.mgz")
	require.NoError(t, WriteDeformation(path, def))

	back, err := ReadDeformation(path)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Geometry().Dims())
	assert.Equal(t, def.Vec, back.Vec)
	assert.InDeltaSlice(t, []float64{0, 0}, back.Geometry().Origin, 1e-6)

	// a scalar volume is not a displacement field
	scalar := filepath.Join(t.TempDir(), "scalar.mgh")
	require.NoError(t, WriteImage(scalar, imaging.NewImage(g)))
	_, err = ReadDeformation(scalar)
	assert.ErrorIs(t, err, ErrMGH)
}

func TestDecodeMGHRejectsGarbage(t *testing.T) {
	_, err := DecodeMGH(bytes.NewReader([]byte{0, 0, 0, 1}))
	assert.ErrorIs(t, err, ErrMGH)

	var buf bytes.Buffer
	v := VolumeFromImage(imaging.NewImage(imaging.NewUniformGeometry(2, 2)))
	require.NoError(t, EncodeMGH(&buf, v))
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = DecodeMGH(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrMGH)
}
