// Package fusion segments a cohort of images jointly by propagating an
// atlas segmentation through dense deformation fields and solving one
// binary Markov Random Field over every pixel of every target image.
//
// The energy has three parts:
//
//   - unary (terminal) costs from agreement with the warped atlas
//     segmentation, scaled by atlas/target intensity similarity and inflated
//     for pixels that few other images corroborate;
//   - inter-image edges between corresponding pixels of every ordered image
//     pair, found by following the deformation fields and weighted by image
//     similarity;
//   - optional intra-image edges between grid neighbours.
//
// The energy is minimised with a max-flow/min-cut Solver and the labelling
// is written back into the target images, 65535 for foreground and 0 for
// background.
//
// Deformation fields follow a single convention throughout: the field
// stored for (moving M, fixed F) is defined on F's grid and holds, at each
// pixel of F, the physical displacement to the corresponding point of M.
package fusion

import (
	"errors"
	"fmt"

	"labelfusion/pkg/dataset"
	"labelfusion/pkg/imaging"
	"labelfusion/pkg/maxflow"
)

// Foreground is the value written into decoded images for Sink-side nodes.
const Foreground = 65535

// OutlierCost is the foreground cost given to a node that no other image
// corroborates when the connectivity penalty is enabled.
const OutlierCost = 100000

var (
	// ErrNoTargets is returned when no image would receive nodes.
	ErrNoTargets = errors.New("no images to segment")

	// ErrGeometryMismatch is returned when a deformation field or the atlas
	// segmentation does not match the grid it is used on.
	ErrGeometryMismatch = errors.New("geometry mismatch")

	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("invalid fusion parameters")
)

// Metric selects the image similarity used for edge and unary weights.
type Metric int

const (
	// SAD scores single pixels by their absolute intensity difference.
	SAD Metric = iota
	// NCC scores neighbourhoods by normalized cross correlation.
	NCC
)

func (m Metric) String() string {
	switch m {
	case SAD:
		return "sad"
	case NCC:
		return "ncc"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric converts "sad" or "ncc" to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "sad", "SAD":
		return SAD, nil
	case "ncc", "NCC":
		return NCC, nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q", ErrInvalidParams, s)
	}
}

// Params configures the energy.
type Params struct {
	// Metric is the similarity measure used everywhere.
	Metric Metric

	// Sigma is the bandwidth of the SAD similarity. It is also the distance
	// falloff of the NCC similarity of unary costs.
	Sigma float64

	// Radius is the NCC neighbourhood radius in pixels.
	Radius int

	// PairwiseWeight scales inter-image edge capacities.
	PairwiseWeight float64

	// RegularizationWeight scales intra-image grid edges. Zero disables them.
	RegularizationWeight float64

	// EdgeThreshold rejects inter-image edges whose similarity is not above it.
	EdgeThreshold float64

	// ConnectivityPenalty enables the corroboration penalty when positive;
	// the penalty term is multiplied by it.
	ConnectivityPenalty float64

	// EvaluateAtlas gives the atlas its own nodes.
	EvaluateAtlas bool

	// MaxImages truncates the processing order when positive.
	MaxImages int
}

// DefaultParams returns the parameters of the command line tool.
func DefaultParams() Params {
	return Params{
		Metric:              SAD,
		Sigma:               30,
		Radius:              3,
		PairwiseWeight:      1,
		ConnectivityPenalty: 1,
	}
}

// Validate checks that the parameters describe a usable energy.
func (p Params) Validate() error {
	switch {
	case p.Metric != SAD && p.Metric != NCC:
		return fmt.Errorf("%w: unknown metric %d", ErrInvalidParams, int(p.Metric))
	case p.Sigma <= 0:
		return fmt.Errorf("%w: sigma must be positive, got %g", ErrInvalidParams, p.Sigma)
	case p.Radius < 0:
		return fmt.Errorf("%w: negative radius %d", ErrInvalidParams, p.Radius)
	case p.PairwiseWeight < 0:
		return fmt.Errorf("%w: negative pairwise weight %g", ErrInvalidParams, p.PairwiseWeight)
	case p.RegularizationWeight < 0:
		return fmt.Errorf("%w: negative regularization weight %g", ErrInvalidParams, p.RegularizationWeight)
	case p.ConnectivityPenalty < 0:
		return fmt.Errorf("%w: negative connectivity penalty %g", ErrInvalidParams, p.ConnectivityPenalty)
	case p.MaxImages < 0:
		return fmt.Errorf("%w: negative image cap %d", ErrInvalidParams, p.MaxImages)
	}
	return nil
}

// Solver is the max-flow/min-cut oracle the energy is built into.
// *maxflow.Graph implements it.
type Solver interface {
	AddNodes(n int) int
	AddEdge(u, v int, capUV, capVU float64)
	AddTerminalWeights(node int, sourceCap, sinkCap float64)
	MaxFlow() float64
	Segment(node int) maxflow.Segment
}

// DeformationSource looks up the deformation for a (moving, fixed) pair.
// *dataset.DeformationTable implements it.
type DeformationSource interface {
	Deformation(moving, fixed string) (*imaging.DeformationField, error)
}

// Cohort is the input of one fusion run.
type Cohort struct {
	// Images holds every image in processing order, the atlas included.
	Images *dataset.ImageSet

	// AtlasID names the atlas image within Images.
	AtlasID string

	// AtlasSegmentation is the label image of the atlas, on the atlas grid.
	AtlasSegmentation *imaging.Image

	// Deformations holds the fields required by the configured graph.
	Deformations DeformationSource

	// Support restricts pairwise evidence when non-nil.
	Support dataset.SupportSet
}

// validate checks the references of the cohort.
func (c *Cohort) validate() error {
	if c.Images == nil || c.Images.Len() == 0 {
		return fmt.Errorf("%w: empty image set", ErrNoTargets)
	}
	atlas, err := c.Images.Image(c.AtlasID)
	if err != nil {
		return fmt.Errorf("atlas: %w", err)
	}
	if c.AtlasSegmentation == nil {
		return errors.New("atlas segmentation is required")
	}
	if !atlas.Geometry().SameSize(c.AtlasSegmentation.Geometry()) {
		return fmt.Errorf("%w: atlas is %s but its segmentation is %s",
			ErrGeometryMismatch, atlas.Geometry(), c.AtlasSegmentation.Geometry())
	}
	if c.Deformations == nil {
		return fmt.Errorf("%w: no deformation table", dataset.ErrMissingDeformation)
	}
	return nil
}

// KeepDeformation reports whether a run with the given atlas, support set and
// evaluate-atlas flag reads the deformation of (moving, fixed). It lets
// loaders skip fields the graph never consults.
func KeepDeformation(atlasID string, support dataset.SupportSet, evaluateAtlas bool) func(moving, fixed string) bool {
	return func(moving, fixed string) bool {
		switch {
		case moving == atlasID:
			return true
		case evaluateAtlas && fixed == atlasID:
			return true
		case !support.Active():
			return true
		case support.Has(moving):
			return true
		default:
			return support.Has(fixed) && moving != atlasID
		}
	}
}
