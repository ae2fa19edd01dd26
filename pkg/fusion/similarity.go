package fusion

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"labelfusion/pkg/imaging"
)

// SADSimilarity maps an intensity difference to (0, 1]:
// exp(-0.5*|a-b|/sigma).
func SADSimilarity(a, b, sigma float64) float64 {
	return math.Exp(-0.5 * math.Abs(a-b) / sigma)
}

// Neighborhood evaluates normalized cross correlation over a square (or
// cubic) window of fixed radius on one grid. Samples outside the grid are
// left out of every sum. It holds scratch buffers and is not safe for
// concurrent use.
type Neighborhood struct {
	geom    *imaging.Geometry
	offsets [][]int
	weights []float64

	center []int
	idx    []int
	fs, ms []float64
}

// NewNeighborhood builds a window of the given radius on g. With a positive
// falloff, each sample is multiplied by exp(-dist/falloff) where dist is its
// Euclidean index distance from the centre.
func NewNeighborhood(g *imaging.Geometry, radius int, falloff float64) *Neighborhood {
	dims := g.Dims()
	side := 2*radius + 1
	count := 1
	for d := 0; d < dims; d++ {
		count *= side
	}

	n := &Neighborhood{
		geom:    g,
		offsets: make([][]int, 0, count),
		weights: make([]float64, 0, count),
		center:  make([]int, dims),
		idx:     make([]int, dims),
		fs:      make([]float64, 0, count),
		ms:      make([]float64, 0, count),
	}
	for k := 0; k < count; k++ {
		off := make([]int, dims)
		rest := k
		sq := 0.0
		for d := 0; d < dims; d++ {
			off[d] = rest%side - radius
			rest /= side
			sq += float64(off[d] * off[d])
		}
		w := 1.0
		if falloff > 0 {
			w = math.Exp(-math.Sqrt(sq) / falloff)
		}
		n.offsets = append(n.offsets, off)
		n.weights = append(n.weights, w)
	}
	return n
}

// Size returns the number of window samples.
func (n *Neighborhood) Size() int { return len(n.offsets) }

// NCC correlates fixed and moving, which must both lie on the
// neighbourhood's grid, in the window around linear position center. It
// returns fallback when either window has no variance.
func (n *Neighborhood) NCC(fixed, moving *imaging.Image, center int, fallback float64) float64 {
	n.geom.IndexOf(center, n.center)
	n.fs, n.ms = n.fs[:0], n.ms[:0]
	for k, off := range n.offsets {
		for d := range n.idx {
			n.idx[d] = n.center[d] + off[d]
		}
		i, inside := n.geom.LinearIndex(n.idx)
		if !inside {
			continue
		}
		w := n.weights[k]
		n.fs = append(n.fs, w*fixed.Pix[i])
		n.ms = append(n.ms, w*moving.Pix[i])
	}
	return correlation(n.fs, n.ms, fallback)
}

// NCCPatch correlates two whole images of equal length. Images without
// variance are treated as perfectly correlated.
func NCCPatch(a, b *imaging.Image) float64 {
	if a.Len() != b.Len() {
		panic("fusion: NCCPatch of images with different lengths")
	}
	return correlation(a.Pix, b.Pix, 1)
}

// correlation returns (1 + r)/2 for the Pearson correlation r of fs and ms,
// clamped to [0, 1], or fallback when the variance product is not positive.
func correlation(fs, ms []float64, fallback float64) float64 {
	if len(fs) == 0 {
		return fallback
	}
	count := float64(len(fs))
	sf, sm := floats.Sum(fs), floats.Sum(ms)
	sff := floats.Dot(fs, fs) - sf*sf/count
	smm := floats.Dot(ms, ms) - sm*sm/count
	sfm := floats.Dot(fs, ms) - sf*sm/count
	if sff*smm <= 0 {
		return fallback
	}
	w := (1 + sfm/math.Sqrt(sff*smm)) / 2
	return math.Max(0, math.Min(1, w))
}

// scorer applies the configured metric to pixel i of two images on the
// same grid.
type scorer struct {
	metric Metric
	sigma  float64
	nb     *Neighborhood
}

func newScorer(p Params, g *imaging.Geometry, falloff float64) *scorer {
	s := &scorer{metric: p.Metric, sigma: p.Sigma}
	if p.Metric == NCC {
		s.nb = NewNeighborhood(g, p.Radius, falloff)
	}
	return s
}

func (s *scorer) score(a, b *imaging.Image, i int) float64 {
	if s.metric == NCC {
		return s.nb.NCC(a, b, i, 0)
	}
	return SADSimilarity(a.Pix[i], b.Pix[i], s.sigma)
}
