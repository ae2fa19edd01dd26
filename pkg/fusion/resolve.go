package fusion

import "labelfusion/pkg/imaging"

// Resolver maps pixels of a source grid, moved by a physical displacement,
// to the nearest pixel of a destination grid. It holds scratch buffers and
// is not safe for concurrent use.
type Resolver struct {
	src, dst *imaging.Geometry
	idx      []int
	pt       []float64
	out      []int
}

// NewResolver returns a resolver from src to dst. Both grids must have the
// same number of axes.
func NewResolver(src, dst *imaging.Geometry) *Resolver {
	return &Resolver{
		src: src,
		dst: dst,
		idx: make([]int, src.Dims()),
		pt:  make([]float64, src.Dims()),
		out: make([]int, dst.Dims()),
	}
}

// Resolve returns the linear index in dst nearest to point(srcLinear) + disp
// and whether that index lies inside dst. No interpolation takes place.
func (r *Resolver) Resolve(srcLinear int, disp []float64) (int, bool) {
	r.src.IndexOf(srcLinear, r.idx)
	r.src.IndexToPoint(r.idx, r.pt)
	for d := range r.pt {
		r.pt[d] += disp[d]
	}
	r.dst.PointToIndex(r.pt, r.out)
	return r.dst.LinearIndex(r.out)
}
