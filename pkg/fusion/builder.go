package fusion

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"labelfusion/pkg/imaging"
	"labelfusion/pkg/interpolation"
	"labelfusion/pkg/maxflow"
)

// Stage names passed to an IntermediateSink.
const (
	StageSimilarity  = "weightedSeg"
	StageWarpedAtlas = "deformedAtlasSeg"
)

// IntermediateSink receives images produced while the energy is built.
type IntermediateSink interface {
	SaveIntermediate(stage, id string, img *imaging.Image) error
}

// Builder turns a cohort into an energy on a Solver. It owns the node map,
// the degree table and the edge statistics of one run and must not be
// reused.
type Builder struct {
	cohort *Cohort
	params Params
	logger *log.Logger
	sink   IntermediateSink

	// order is the processing order, truncated to MaxImages
	order []string
	nodes *NodeMap

	// degree counts inter-image edges per node, on the source side only
	degree     []int
	interEdges int
	gridEdges  int

	edgeWeights      []float64
	unaryWeights     []float64
	atlasCorrelation map[string]float64

	built bool
}

// NewBuilder validates the inputs and assigns node ranges. A nil logger
// discards all output.
func NewBuilder(cohort *Cohort, params Params, logger *log.Logger) (*Builder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := cohort.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	order := cohort.Images.IDs()
	if params.MaxImages > 0 && params.MaxImages < len(order) {
		order = order[:params.MaxImages]
	}

	nodes := NewNodeMap()
	for _, id := range order {
		if id == cohort.AtlasID && !params.EvaluateAtlas {
			continue
		}
		if err := nodes.Add(id, cohort.Images.PixelCount(id)); err != nil {
			return nil, err
		}
	}
	if len(nodes.Images()) == 0 {
		return nil, fmt.Errorf("%w: %d images, atlas %s, evaluate atlas %t",
			ErrNoTargets, len(order), cohort.AtlasID, params.EvaluateAtlas)
	}

	return &Builder{
		cohort:           cohort,
		params:           params,
		logger:           logger,
		order:            order,
		nodes:            nodes,
		degree:           make([]int, nodes.Total()),
		atlasCorrelation: make(map[string]float64),
	}, nil
}

// SetIntermediateSink makes Build hand the similarity map and the warped
// atlas of every target image to sink.
func (b *Builder) SetIntermediateSink(sink IntermediateSink) { b.sink = sink }

// Nodes returns the node map.
func (b *Builder) Nodes() *NodeMap { return b.nodes }

// Order returns the processing order, the atlas included.
func (b *Builder) Order() []string { return append([]string(nil), b.order...) }

// Degree returns the inter-image degree of node.
func (b *Builder) Degree(node int) int { return b.degree[node] }

// InterImageEdges returns the number of inter-image edges inserted.
func (b *Builder) InterImageEdges() int { return b.interEdges }

// GridEdges returns the number of intra-image edges inserted.
func (b *Builder) GridEdges() int { return b.gridEdges }

// EdgeWeights returns the similarity of every inserted inter-image edge.
func (b *Builder) EdgeWeights() []float64 { return b.edgeWeights }

// UnaryWeights returns the atlas similarity of every target node.
func (b *Builder) UnaryWeights() []float64 { return b.unaryWeights }

// AtlasCorrelation returns the whole-image correlation between each target
// image and the atlas warped onto it.
func (b *Builder) AtlasCorrelation() map[string]float64 { return b.atlasCorrelation }

// Ratio is the balance between unary and pairwise terms: inter-image edges
// per node, or 1 when there are no inter-image edges.
func (b *Builder) Ratio() float64 {
	if b.interEdges == 0 {
		return 1
	}
	return float64(b.interEdges) / float64(b.nodes.Total())
}

// EstimateEdges returns the number of edges Build will insert at most. It
// only reads image sizes.
func (b *Builder) EstimateEdges() int {
	estimate := 0
	ids := b.nodes.Images()
	for _, a := range ids {
		for _, o := range ids {
			if a != o && b.pairAllowed(a, o) {
				estimate += b.nodes.Count(a)
			}
		}
		if b.params.RegularizationWeight > 0 {
			img, _ := b.cohort.Images.Image(a)
			estimate += gridEdgeCount(img.Geometry())
		}
	}
	return estimate
}

func gridEdgeCount(g *imaging.Geometry) int {
	total := 0
	for d := range g.Size {
		edges := g.Size[d] - 1
		for o := range g.Size {
			if o != d {
				edges *= g.Size[o]
			}
		}
		total += edges
	}
	return total
}

// pairAllowed applies the support sample rule to an ordered image pair.
func (b *Builder) pairAllowed(a, o string) bool {
	s := b.cohort.Support
	return !s.Active() || s.Has(a) || s.Has(o)
}

// Build adds all nodes, edges and terminal weights to solver. Pairwise
// edges are inserted first since the unary costs depend on their degrees.
func (b *Builder) Build(solver Solver) error {
	if b.built {
		return fmt.Errorf("builder already used")
	}
	b.built = true

	solver.AddNodes(b.nodes.Total())
	if err := b.buildPairwise(solver); err != nil {
		return err
	}
	return b.buildUnary(solver)
}

func (b *Builder) buildPairwise(solver Solver) error {
	ids := b.nodes.Images()
	for _, a := range ids {
		imgA, _ := b.cohort.Images.Image(a)
		gA := imgA.Geometry()
		offA := b.nodes.Offset(a)

		for _, o := range ids {
			if a == o || !b.pairAllowed(a, o) {
				continue
			}
			imgB, _ := b.cohort.Images.Image(o)
			offB := b.nodes.Offset(o)

			def, err := b.cohort.Deformations.Deformation(o, a)
			if err != nil {
				return fmt.Errorf("pairwise %s -> %s: %w", a, o, err)
			}
			if !def.Geometry().SameSize(gA) {
				return fmt.Errorf("%w: deformation %s -> %s is %s, image %s is %s",
					ErrGeometryMismatch, o, a, def.Geometry(), a, gA)
			}

			warped := interpolation.Warp(imgB, def, false)
			resolver := NewResolver(gA, imgB.Geometry())
			sc := newScorer(b.params, gA, 0)

			added := 0
			for p := 0; p < imgA.Len(); p++ {
				q, inside := resolver.Resolve(p, def.Displacement(p))
				if !inside {
					continue
				}
				weight := sc.score(imgA, warped, p)
				if weight <= b.params.EdgeThreshold {
					continue
				}
				c := weight * b.params.PairwiseWeight
				solver.AddEdge(offA+p, offB+q, c, c)
				b.degree[offA+p]++
				b.interEdges++
				b.edgeWeights = append(b.edgeWeights, weight)
				added++
			}
			b.logger.Debug("pairwise", "image", a, "other", o, "edges", added)
		}
	}
	return nil
}

func (b *Builder) buildUnary(solver Solver) error {
	atlas, _ := b.cohort.Images.Image(b.cohort.AtlasID)
	ratio := b.Ratio()
	b.logger.Debug("unary balance", "interImageEdges", b.interEdges, "nodes", b.nodes.Total(), "ratio", ratio)

	for _, id := range b.nodes.Images() {
		img, _ := b.cohort.Images.Image(id)
		if id != b.cohort.AtlasID {
			if err := b.targetTerminals(solver, id, img, atlas, ratio); err != nil {
				return err
			}
		}
		// the atlas keeps zero terminal costs
		if b.params.RegularizationWeight > 0 {
			b.gridEdges += addGridEdges(solver, img, b.nodes.Offset(id), b.params.RegularizationWeight, b.params.Sigma)
		}
	}
	return nil
}

func (b *Builder) targetTerminals(solver Solver, id string, img, atlas *imaging.Image, ratio float64) error {
	g := img.Geometry()
	def, err := b.cohort.Deformations.Deformation(b.cohort.AtlasID, id)
	if err != nil {
		return fmt.Errorf("unary %s: %w", id, err)
	}
	if !def.Geometry().SameSize(g) {
		return fmt.Errorf("%w: deformation %s -> %s is %s, image is %s",
			ErrGeometryMismatch, b.cohort.AtlasID, id, def.Geometry(), g)
	}

	warpedAtlas := interpolation.Warp(atlas, def, false)
	warpedSeg := interpolation.Warp(b.cohort.AtlasSegmentation, def, true)
	b.atlasCorrelation[id] = NCCPatch(img, warpedAtlas)

	maxEdges := len(b.order) - 2
	if s := b.cohort.Support; s.Active() && !s.Has(id) {
		maxEdges = len(s)
	}

	sc := newScorer(b.params, g, b.params.Sigma)
	var weightMap *imaging.Image
	if b.sink != nil {
		weightMap = imaging.NewImage(g)
	}

	off := b.nodes.Offset(id)
	outliers := 0
	for p := 0; p < img.Len(); p++ {
		node := off + p
		fg, bg := 0.0, 1.0
		if warpedSeg.Pix[p] == 0 {
			fg, bg = 1, 0
		}

		outlier := false
		if b.params.ConnectivityPenalty > 0 {
			if deg := b.degree[node]; deg > 0 {
				fg += b.params.ConnectivityPenalty * (float64(maxEdges)/float64(deg) - 1)
			} else {
				outlier = true
			}
		}

		weight := sc.score(img, warpedAtlas, p)
		b.unaryWeights = append(b.unaryWeights, weight)
		if weightMap != nil {
			weightMap.Pix[p] = float64(Foreground) * weight
		}

		fg *= weight * ratio
		bg *= weight * ratio
		if outlier {
			fg, bg = OutlierCost, 0
			outliers++
		}
		solver.AddTerminalWeights(node, fg, bg)
	}
	b.logger.Debug("unary", "image", id, "outliers", outliers, "atlasCorrelation", b.atlasCorrelation[id])

	if b.sink != nil {
		if err := b.sink.SaveIntermediate(StageSimilarity, id, weightMap); err != nil {
			b.logger.Warn("failed to save similarity map", "image", id, "err", err)
		}
		if err := b.sink.SaveIntermediate(StageWarpedAtlas, id, warpedAtlas); err != nil {
			b.logger.Warn("failed to save warped atlas", "image", id, "err", err)
		}
	}
	return nil
}

// addGridEdges links every pixel of img to its forward neighbour along each
// axis with capacity weight*SAD and returns the number of edges.
func addGridEdges(solver Solver, img *imaging.Image, offset int, weight, sigma float64) int {
	g := img.Geometry()
	idx := make([]int, g.Dims())
	added := 0
	for p := 0; p < img.Len(); p++ {
		g.IndexOf(p, idx)
		for d := range idx {
			if idx[d]+1 >= g.Size[d] {
				continue
			}
			q := p + g.Stride(d)
			c := weight * SADSimilarity(img.Pix[p], img.Pix[q], sigma)
			solver.AddEdge(offset+p, offset+q, c, c)
			added++
		}
	}
	return added
}

// Segmentation is the decoded labelling of one image.
type Segmentation struct {
	ID         string
	Image      *imaging.Image
	Foreground int
}

// Decode writes the labelling of a solved solver into the included images,
// overwriting their intensities: Foreground for Sink-side nodes, 0 otherwise.
func (b *Builder) Decode(solver Solver) []Segmentation {
	ids := b.nodes.Images()
	out := make([]Segmentation, 0, len(ids))
	for _, id := range ids {
		img, _ := b.cohort.Images.Image(id)
		off := b.nodes.Offset(id)
		fg := 0
		for p := range img.Pix {
			if solver.Segment(off+p) == maxflow.Sink {
				img.Pix[p] = Foreground
				fg++
			} else {
				img.Pix[p] = 0
			}
		}
		out = append(out, Segmentation{ID: id, Image: img, Foreground: fg})
	}
	return out
}
