package imageio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"labelfusion/pkg/imaging"
)

// MGH data types.
const (
	mghUChar = 0
	mghInt   = 1
	mghFloat = 3
	mghShort = 4
)

// the fixed header is padded to this many bytes before the data
const mghHeaderSize = 284

// ErrMGH is returned for malformed MGH files.
var ErrMGH = errors.New("invalid mgh file")

// Volume is the content of an MGH file: up to three spatial axes and any
// number of frames, with its geometry in scanner coordinates.
type Volume struct {
	// Size holds width, height and depth
	Size [3]int

	// Frames is the number of values per voxel
	Frames int

	// Spacing holds the voxel size per axis
	Spacing [3]float64

	// Direction holds the axis directions as columns
	Direction [3][3]float64

	// Center is the physical point at voxel Size/2
	Center [3]float64

	// Data is frame-major, then x fastest
	Data []float32
}

func (v *Volume) voxels() int { return v.Size[0] * v.Size[1] * v.Size[2] }

// dims is 2 for single-slice volumes and 3 otherwise.
func (v *Volume) dims() int {
	if v.Size[2] == 1 {
		return 2
	}
	return 3
}

// Geometry converts the MGH header to an imaging geometry. The origin is
// the point of voxel 0: Center - Direction*diag(Spacing)*Size/2.
func (v *Volume) Geometry() (*imaging.Geometry, error) {
	var origin [3]float64
	for r := 0; r < 3; r++ {
		origin[r] = v.Center[r]
		for c := 0; c < 3; c++ {
			origin[r] -= v.Direction[r][c] * v.Spacing[c] * float64(v.Size[c]) / 2
		}
	}

	d := v.dims()
	dir := mat.NewDense(d, d, nil)
	for r := 0; r < d; r++ {
		for c := 0; c < d; c++ {
			dir.Set(r, c, v.Direction[r][c])
		}
	}
	return imaging.NewGeometry(
		append([]int(nil), v.Size[:d]...),
		append([]float64(nil), v.Spacing[:d]...),
		append([]float64(nil), origin[:d]...),
		dir,
	)
}

// Image returns the first frame as an image.
func (v *Volume) Image() (*imaging.Image, error) {
	g, err := v.Geometry()
	if err != nil {
		return nil, err
	}
	img := imaging.NewImage(g)
	for i := range img.Pix {
		img.Pix[i] = float64(v.Data[i])
	}
	return img, nil
}

// DeformationField interprets the frames as displacement components. The
// number of frames must match the number of spatial axes.
func (v *Volume) DeformationField() (*imaging.DeformationField, error) {
	g, err := v.Geometry()
	if err != nil {
		return nil, err
	}
	d := g.Dims()
	if v.Frames != d {
		return nil, fmt.Errorf("%w: %d frames for a %d-d displacement field", ErrMGH, v.Frames, d)
	}
	def := imaging.NewDeformationField(g)
	n := v.voxels()
	for i := 0; i < n; i++ {
		for c := 0; c < d; c++ {
			def.Vec[i*d+c] = float64(v.Data[c*n+i])
		}
	}
	return def, nil
}

func volumeHeader(g *imaging.Geometry, frames int) *Volume {
	v := &Volume{Frames: frames}
	for a := 0; a < 3; a++ {
		v.Size[a] = 1
		v.Spacing[a] = 1
		v.Direction[a][a] = 1
	}
	d := g.Dims()
	var origin [3]float64
	for a := 0; a < d && a < 3; a++ {
		v.Size[a] = g.Size[a]
		v.Spacing[a] = g.Spacing[a]
		origin[a] = g.Origin[a]
		for b := 0; b < d && b < 3; b++ {
			v.Direction[a][b] = g.Direction.At(a, b)
		}
	}
	for r := 0; r < 3; r++ {
		v.Center[r] = origin[r]
		for c := 0; c < 3; c++ {
			v.Center[r] += v.Direction[r][c] * v.Spacing[c] * float64(v.Size[c]) / 2
		}
	}
	v.Data = make([]float32, v.voxels()*frames)
	return v
}

// VolumeFromImage builds a single-frame volume from a 2-d or 3-d image.
func VolumeFromImage(img *imaging.Image) *Volume {
	v := volumeHeader(img.Geometry(), 1)
	for i, p := range img.Pix {
		v.Data[i] = float32(p)
	}
	return v
}

// VolumeFromDeformation builds a volume with one frame per component.
func VolumeFromDeformation(def *imaging.DeformationField) *Volume {
	d := def.Geometry().Dims()
	v := volumeHeader(def.Geometry(), d)
	n := def.Len()
	for i := 0; i < n; i++ {
		for c := 0; c < d; c++ {
			v.Data[c*n+i] = float32(def.Vec[i*d+c])
		}
	}
	return v
}

type mghHeader struct {
	Version int32
	Width   int32
	Height  int32
	Depth   int32
	Frames  int32
	Type    int32
	DOF     int32
	GoodRAS int16
	Spacing [3]float32
	Mdc     [9]float32 // x_r x_a x_s y_r y_a y_s z_r z_a z_s
	Center  [3]float32
}

// ReadMGH reads an MGH file, transparently un-gzipping .mgz.
func ReadMGH(path string) (*Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if ext(path) == ".mgz" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream of %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	vol, err := DecodeMGH(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vol, nil
}

// DecodeMGH parses an uncompressed MGH stream.
func DecodeMGH(r io.Reader) (*Volume, error) {
	var h mghHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMGH, err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.Depth <= 0 || h.Frames <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%dx%d with %d frames", ErrMGH, h.Width, h.Height, h.Depth, h.Frames)
	}
	if _, err := io.CopyN(io.Discard, r, int64(mghHeaderSize-binary.Size(h))); err != nil {
		return nil, fmt.Errorf("%w: header padding: %v", ErrMGH, err)
	}

	v := &Volume{
		Size:   [3]int{int(h.Width), int(h.Height), int(h.Depth)},
		Frames: int(h.Frames),
	}
	if h.GoodRAS > 0 {
		for a := 0; a < 3; a++ {
			v.Spacing[a] = float64(h.Spacing[a])
			v.Center[a] = float64(h.Center[a])
			for row := 0; row < 3; row++ {
				v.Direction[row][a] = float64(h.Mdc[a*3+row])
			}
		}
	} else {
		for a := 0; a < 3; a++ {
			v.Spacing[a] = 1
			v.Direction[a][a] = 1
		}
	}

	n := v.voxels() * v.Frames
	v.Data = make([]float32, n)
	switch h.Type {
	case mghUChar:
		buf := make([]uint8, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMGH, err)
		}
		for i, b := range buf {
			v.Data[i] = float32(b)
		}
	case mghShort:
		buf := make([]int16, n)
		if err := binary.Read(r, binary.BigEndian, buf); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMGH, err)
		}
		for i, s := range buf {
			v.Data[i] = float32(s)
		}
	case mghInt:
		buf := make([]int32, n)
		if err := binary.Read(r, binary.BigEndian, buf); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMGH, err)
		}
		for i, s := range buf {
			v.Data[i] = float32(s)
		}
	case mghFloat:
		if err := binary.Read(r, binary.BigEndian, v.Data); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrMGH, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported data type %d", ErrMGH, h.Type)
	}
	return v, nil
}

// WriteMGH writes v as float data, gzipped when path ends in .mgz.
func WriteMGH(path string, v *Volume) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	var w io.Writer = bw
	var gz *gzip.Writer
	if ext(path) == ".mgz" {
		gz = gzip.NewWriter(bw)
		w = gz
	}

	if err := EncodeMGH(w, v); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// EncodeMGH writes v as an uncompressed MGH stream of float data.
func EncodeMGH(w io.Writer, v *Volume) error {
	h := mghHeader{
		Version: 1,
		Width:   int32(v.Size[0]),
		Height:  int32(v.Size[1]),
		Depth:   int32(v.Size[2]),
		Frames:  int32(v.Frames),
		Type:    mghFloat,
		GoodRAS: 1,
	}
	for a := 0; a < 3; a++ {
		h.Spacing[a] = float32(v.Spacing[a])
		h.Center[a] = float32(v.Center[a])
		for row := 0; row < 3; row++ {
			h.Mdc[a*3+row] = float32(v.Direction[row][a])
		}
	}

	if err := binary.Write(w, binary.BigEndian, &h); err != nil {
		return err
	}
	if _, err := w.Write(make([]byte, mghHeaderSize-binary.Size(h))); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, v.Data)
}
