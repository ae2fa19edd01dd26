// Package imageio reads and writes images and deformation fields.
//
// Two-dimensional grayscale rasters are read from PNG and TIFF files and keep
// their raw sample values (0-255 for 8-bit, 0-65535 for 16-bit data); they
// carry no physical metadata and get a unit-spacing geometry. Volumes and
// deformation fields use the FreeSurfer MGH format, optionally gzipped
// (.mgz), which stores spacing, orientation and centre.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"labelfusion/pkg/imaging"
)

// ErrUnsupportedFormat is returned for file extensions with no codec.
var ErrUnsupportedFormat = errors.New("unsupported file format")

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// ReadImage loads a scalar image, choosing the codec by extension.
func ReadImage(path string) (*imaging.Image, error) {
	switch ext(path) {
	case ".png", ".tif", ".tiff":
		return readRaster(path)
	case ".mgh", ".mgz":
		vol, err := ReadMGH(path)
		if err != nil {
			return nil, err
		}
		return vol.Image()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// WriteImage stores img, choosing the codec by extension. Raster formats
// hold 16-bit samples; values are rounded and clamped to [0, 65535].
func WriteImage(path string, img *imaging.Image) error {
	switch ext(path) {
	case ".png", ".tif", ".tiff":
		return writeRaster(path, img)
	case ".mgh", ".mgz":
		return WriteMGH(path, VolumeFromImage(img))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func readRaster(path string) (*imaging.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var decoded image.Image
	if e := ext(path); e == ".png" {
		decoded, err = png.Decode(file)
	} else {
		decoded, err = tiff.Decode(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return FromRaster(decoded), nil
}

// FromRaster converts a decoded raster to an image, keeping raw gray levels.
func FromRaster(src image.Image) *imaging.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	img := imaging.NewImage(imaging.NewUniformGeometry(width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px, py := bounds.Min.X+x, bounds.Min.Y+y
			var v float64
			switch s := src.(type) {
			case *image.Gray16:
				v = float64(s.Gray16At(px, py).Y)
			case *image.Gray:
				v = float64(s.GrayAt(px, py).Y)
			default:
				v = float64(color.Gray16Model.Convert(src.At(px, py)).(color.Gray16).Y)
			}
			img.Set(y*width+x, v)
		}
	}
	return img
}

// ToRaster converts a two-dimensional image to 16-bit grayscale.
func ToRaster(img *imaging.Image) (*image.Gray16, error) {
	g := img.Geometry()
	if g.Dims() != 2 {
		return nil, fmt.Errorf("%w: %d-d image cannot be stored as a raster", ErrUnsupportedFormat, g.Dims())
	}
	width, height := g.Size[0], g.Size[1]
	out := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Round(img.At(y*width + x))
			v = math.Max(0, math.Min(65535, v))
			out.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return out, nil
}

func writeRaster(path string, img *imaging.Image) error {
	raster, err := ToRaster(img)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer file.Close()

	if ext(path) == ".png" {
		err = png.Encode(file, raster)
	} else {
		err = tiff.Encode(file, raster, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}

// ReadDeformation loads a displacement field from an MGH/MGZ file whose
// frames are the vector components.
func ReadDeformation(path string) (*imaging.DeformationField, error) {
	switch ext(path) {
	case ".mgh", ".mgz":
		vol, err := ReadMGH(path)
		if err != nil {
			return nil, err
		}
		return vol.DeformationField()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// WriteDeformation stores def as an MGH/MGZ file.
func WriteDeformation(path string, def *imaging.DeformationField) error {
	switch ext(path) {
	case ".mgh", ".mgz":
		return WriteMGH(path, VolumeFromDeformation(def))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}
