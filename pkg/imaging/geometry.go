// Package imaging provides N-dimensional scalar images and displacement
// fields together with the physical geometry needed to move between
// discrete pixel indices and physical points.
//
// Pixels are stored in linear order with axis 0 varying fastest, which is
// the order in which every other package in labelfusion walks an image.
package imaging

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrGeometry is returned when a geometry cannot be constructed from the
// supplied size, spacing, origin and direction.
var ErrGeometry = errors.New("invalid image geometry")

// Geometry describes the sampling grid of an image: its size in pixels along
// each axis, the physical spacing between pixels, the physical position of
// the first pixel, and the orientation of the axes.
type Geometry struct {
	// Size is the number of pixels along each axis
	Size []int

	// Spacing is the physical distance between neighbouring pixels per axis
	Spacing []float64

	// Origin is the physical point of index (0, ..., 0)
	Origin []float64

	// Direction holds the axis directions as columns
	Direction *mat.Dense

	strides []int
	length  int

	// toPoint = Direction * diag(Spacing), toIndex its inverse, both row-major
	toPoint []float64
	toIndex []float64
}

// NewGeometry builds a geometry. A nil direction means identity, a nil
// spacing means unit spacing and a nil origin means the zero point.
func NewGeometry(size []int, spacing, origin []float64, direction *mat.Dense) (*Geometry, error) {
	dims := len(size)
	if dims == 0 {
		return nil, fmt.Errorf("%w: no axes", ErrGeometry)
	}
	for d, s := range size {
		if s <= 0 {
			return nil, fmt.Errorf("%w: axis %d has size %d", ErrGeometry, d, s)
		}
	}

	if spacing == nil {
		spacing = make([]float64, dims)
		for d := range spacing {
			spacing[d] = 1
		}
	}
	if origin == nil {
		origin = make([]float64, dims)
	}
	if len(spacing) != dims || len(origin) != dims {
		return nil, fmt.Errorf("%w: spacing/origin do not have %d components", ErrGeometry, dims)
	}
	for d, sp := range spacing {
		if sp <= 0 {
			return nil, fmt.Errorf("%w: axis %d has spacing %g", ErrGeometry, d, sp)
		}
	}

	if direction == nil {
		eye := make([]float64, dims*dims)
		for d := 0; d < dims; d++ {
			eye[d*dims+d] = 1
		}
		direction = mat.NewDense(dims, dims, eye)
	}
	if r, c := direction.Dims(); r != dims || c != dims {
		return nil, fmt.Errorf("%w: direction is %dx%d, want %dx%d", ErrGeometry, r, c, dims, dims)
	}

	var scaled mat.Dense
	scaled.Mul(direction, mat.NewDiagDense(dims, spacing))

	var inverse mat.Dense
	if err := inverse.Inverse(&scaled); err != nil {
		return nil, fmt.Errorf("%w: direction is not invertible: %v", ErrGeometry, err)
	}

	g := &Geometry{
		Size:      append([]int(nil), size...),
		Spacing:   append([]float64(nil), spacing...),
		Origin:    append([]float64(nil), origin...),
		Direction: mat.DenseCopyOf(direction),
		strides:   make([]int, dims),
		toPoint:   make([]float64, dims*dims),
		toIndex:   make([]float64, dims*dims),
	}

	stride := 1
	for d := 0; d < dims; d++ {
		g.strides[d] = stride
		stride *= size[d]
	}
	g.length = stride

	for r := 0; r < dims; r++ {
		for c := 0; c < dims; c++ {
			g.toPoint[r*dims+c] = scaled.At(r, c)
			g.toIndex[r*dims+c] = inverse.At(r, c)
		}
	}

	return g, nil
}

// NewUniformGeometry returns a geometry with unit spacing, zero origin and
// identity direction. It panics on non-positive sizes and is meant for
// images that carry no physical metadata, such as PNG files.
func NewUniformGeometry(size ...int) *Geometry {
	g, err := NewGeometry(size, nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return g
}

// Dims returns the number of axes.
func (g *Geometry) Dims() int { return len(g.Size) }

// Len returns the number of pixels.
func (g *Geometry) Len() int { return g.length }

// Stride returns the linear offset between neighbours along axis d.
func (g *Geometry) Stride(d int) int { return g.strides[d] }

// IndexOf writes the discrete index of the given linear position into idx
// and returns it. idx is allocated when nil.
func (g *Geometry) IndexOf(linear int, idx []int) []int {
	if idx == nil {
		idx = make([]int, len(g.Size))
	}
	for d := range g.Size {
		idx[d] = linear % g.Size[d]
		linear /= g.Size[d]
	}
	return idx
}

// LinearIndex converts a discrete index to its linear position. The second
// result reports whether the index lies inside the grid; the linear value is
// meaningless when it does not.
func (g *Geometry) LinearIndex(idx []int) (int, bool) {
	linear := 0
	inside := true
	for d, i := range idx {
		if i < 0 || i >= g.Size[d] {
			inside = false
		}
		linear += i * g.strides[d]
	}
	return linear, inside
}

// IndexToPoint maps a discrete index to its physical point, writing into pt
// (allocated when nil).
func (g *Geometry) IndexToPoint(idx []int, pt []float64) []float64 {
	dims := len(g.Size)
	if pt == nil {
		pt = make([]float64, dims)
	}
	for r := 0; r < dims; r++ {
		v := g.Origin[r]
		for c := 0; c < dims; c++ {
			v += g.toPoint[r*dims+c] * float64(idx[c])
		}
		pt[r] = v
	}
	return pt
}

// PointToContinuousIndex maps a physical point to fractional index
// coordinates, writing into ci (allocated when nil).
func (g *Geometry) PointToContinuousIndex(pt []float64, ci []float64) []float64 {
	dims := len(g.Size)
	if ci == nil {
		ci = make([]float64, dims)
	}
	for r := 0; r < dims; r++ {
		v := 0.0
		for c := 0; c < dims; c++ {
			v += g.toIndex[r*dims+c] * (pt[c] - g.Origin[c])
		}
		ci[r] = v
	}
	return ci
}

// PointToIndex maps a physical point to the nearest discrete index, rounding
// halves up. The result may lie outside the grid; use LinearIndex to test.
func (g *Geometry) PointToIndex(pt []float64, idx []int) []int {
	dims := len(g.Size)
	if idx == nil {
		idx = make([]int, dims)
	}
	for r := 0; r < dims; r++ {
		v := 0.0
		for c := 0; c < dims; c++ {
			v += g.toIndex[r*dims+c] * (pt[c] - g.Origin[c])
		}
		idx[r] = int(math.Floor(v + 0.5))
	}
	return idx
}

// SameSize reports whether both grids have the same number of pixels along
// every axis.
func (g *Geometry) SameSize(o *Geometry) bool {
	if len(g.Size) != len(o.Size) {
		return false
	}
	for d := range g.Size {
		if g.Size[d] != o.Size[d] {
			return false
		}
	}
	return true
}

// String renders the size as WxHxD.
func (g *Geometry) String() string {
	s := ""
	for d, n := range g.Size {
		if d > 0 {
			s += "x"
		}
		s += fmt.Sprint(n)
	}
	return s
}
