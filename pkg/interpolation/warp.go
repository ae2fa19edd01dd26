// Package interpolation resamples images through dense deformation fields.
//
// Warp produces an image on the grid of the deformation field: every output
// pixel p takes the value of the input image at the physical point
// point(p) + displacement(p). Linear interpolation is used for intensities,
// nearest-neighbour interpolation for label images, which must never be
// blended.
package interpolation

import (
	"math"

	"labelfusion/pkg/imaging"
)

// Warp resamples img through def. Samples that fall outside the input
// buffer are set to 0.
func Warp(img *imaging.Image, def *imaging.DeformationField, nearest bool) *imaging.Image {
	out, _ := WarpWithMask(img, def, nearest)
	return out
}

// WarpWithMask is Warp that also returns a mask image holding 1 where the
// sample was inside the input buffer and 0 elsewhere.
func WarpWithMask(img *imaging.Image, def *imaging.DeformationField, nearest bool) (*imaging.Image, *imaging.Image) {
	grid := def.Geometry()
	out := imaging.NewImage(grid)
	mask := imaging.NewImage(grid)

	s := newSampler(img)
	idx := make([]int, grid.Dims())
	pt := make([]float64, grid.Dims())

	for i := 0; i < grid.Len(); i++ {
		grid.IndexOf(i, idx)
		grid.IndexToPoint(idx, pt)
		disp := def.Displacement(i)
		for d := range pt {
			pt[d] += disp[d]
		}

		var (
			v      float64
			inside bool
		)
		if nearest {
			v, inside = s.nearest(pt)
		} else {
			v, inside = s.linear(pt)
		}
		if inside {
			out.Pix[i] = v
			mask.Pix[i] = 1
		}
	}

	return out, mask
}

// sampler evaluates an image at physical points, reusing scratch buffers.
type sampler struct {
	img    *imaging.Image
	geom   *imaging.Geometry
	ci     []float64
	idx    []int
	base   []int
	frac   []float64
	corner []int
}

func newSampler(img *imaging.Image) *sampler {
	dims := img.Geometry().Dims()
	return &sampler{
		img:    img,
		geom:   img.Geometry(),
		ci:     make([]float64, dims),
		idx:    make([]int, dims),
		base:   make([]int, dims),
		frac:   make([]float64, dims),
		corner: make([]int, dims),
	}
}

// insideBuffer uses the half-pixel extended bounds [-0.5, size-0.5).
func (s *sampler) insideBuffer() bool {
	for d, c := range s.ci {
		if c < -0.5 || c >= float64(s.geom.Size[d])-0.5 {
			return false
		}
	}
	return true
}

func (s *sampler) nearest(pt []float64) (float64, bool) {
	s.geom.PointToContinuousIndex(pt, s.ci)
	if !s.insideBuffer() {
		return 0, false
	}
	for d, c := range s.ci {
		s.idx[d] = clamp(int(math.Floor(c+0.5)), s.geom.Size[d])
	}
	i, _ := s.geom.LinearIndex(s.idx)
	return s.img.Pix[i], true
}

// linear blends the 2^D corners around the continuous index, clamping
// corners to the grid so the half-pixel border is extrapolated flat.
func (s *sampler) linear(pt []float64) (float64, bool) {
	s.geom.PointToContinuousIndex(pt, s.ci)
	if !s.insideBuffer() {
		return 0, false
	}

	dims := len(s.ci)
	for d, c := range s.ci {
		f := math.Floor(c)
		s.base[d] = int(f)
		s.frac[d] = c - f
	}

	value := 0.0
	for mask := 0; mask < 1<<dims; mask++ {
		w := 1.0
		for d := 0; d < dims; d++ {
			if mask&(1<<d) != 0 {
				s.corner[d] = s.base[d] + 1
				w *= s.frac[d]
			} else {
				s.corner[d] = s.base[d]
				w *= 1 - s.frac[d]
			}
			s.corner[d] = clamp(s.corner[d], s.geom.Size[d])
		}
		if w == 0 {
			continue
		}
		i, _ := s.geom.LinearIndex(s.corner)
		value += w * s.img.Pix[i]
	}
	return value, true
}

func clamp(i, size int) int {
	if i < 0 {
		return 0
	}
	if i >= size {
		return size - 1
	}
	return i
}
