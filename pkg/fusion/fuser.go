package fusion

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"labelfusion/internal/models"
	"labelfusion/pkg/maxflow"
)

// Option configures a Fuser.
type Option func(*Fuser)

// WithLogger sets the logger used for stage progress.
func WithLogger(l *log.Logger) Option {
	return func(f *Fuser) { f.logger = l }
}

// WithIntermediates makes every run hand its similarity maps and warped
// atlases to sink.
func WithIntermediates(sink IntermediateSink) Option {
	return func(f *Fuser) { f.sink = sink }
}

// Fuser runs the complete fusion pipeline: node assignment, pairwise edges,
// unary costs, max-flow and decoding.
type Fuser struct {
	params Params
	logger *log.Logger
	sink   IntermediateSink
}

// NewFuser returns a fuser for params. Without WithLogger it logs to
// log.Default().
func NewFuser(params Params, opts ...Option) *Fuser {
	f := &Fuser{params: params}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.Default()
	}
	return f
}

// Result is the outcome of a run. The segmentations alias the images of the
// cohort, which have been overwritten with labels.
type Result struct {
	Segmentations []Segmentation
	Stats         models.RunStats
}

// Process segments every included image of cohort. The context is checked
// between stages; a stage that has started runs to completion.
func (f *Fuser) Process(ctx context.Context, cohort *Cohort) (*Result, error) {
	stats := models.RunStats{Stages: make(map[string]time.Duration)}

	start := time.Now()
	b, err := NewBuilder(cohort, f.params, f.logger)
	if err != nil {
		return nil, err
	}
	b.SetIntermediateSink(f.sink)
	estimate := b.EstimateEdges()
	stats.Nodes = b.Nodes().Total()
	f.logger.Info("allocating graph",
		"images", len(b.Nodes().Images()),
		"nodes", stats.Nodes,
		"edgeEstimate", estimate,
		"metric", f.params.Metric)
	graph := maxflow.NewGraph(stats.Nodes, estimate)
	graph.AddNodes(stats.Nodes)
	b.built = true
	stats.Stages["init"] = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	if err := b.buildPairwise(graph); err != nil {
		return nil, fmt.Errorf("failed to build pairwise potentials: %w", err)
	}
	stats.Stages["pairwise"] = time.Since(start)
	f.logger.Info("set up pairwise potentials",
		"edges", b.InterImageEdges(),
		"duration", stats.Stages["pairwise"].Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	if err := b.buildUnary(graph); err != nil {
		return nil, fmt.Errorf("failed to build unary potentials: %w", err)
	}
	stats.Stages["unary"] = time.Since(start)
	f.logger.Info("set up unary potentials",
		"ratio", b.Ratio(),
		"gridEdges", b.GridEdges(),
		"duration", stats.Stages["unary"].Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	stats.Flow = graph.MaxFlow()
	stats.Stages["optimization"] = time.Since(start)
	f.logger.Info("optimization done",
		"energy", stats.Flow,
		"duration", stats.Stages["optimization"].Round(time.Millisecond))

	segs := b.Decode(graph)

	stats.InterImageEdges = b.InterImageEdges()
	stats.GridEdges = b.GridEdges()
	stats.Ratio = b.Ratio()
	stats.EdgeWeights = summarize(b.EdgeWeights())
	stats.UnaryWeights = summarize(b.UnaryWeights())
	corr := b.AtlasCorrelation()
	for _, s := range segs {
		stats.Images = append(stats.Images, models.ImageResult{
			ID:               s.ID,
			Pixels:           s.Image.Len(),
			Foreground:       s.Foreground,
			AtlasCorrelation: corr[s.ID],
		})
	}

	return &Result{Segmentations: segs, Stats: stats}, nil
}

// summarize computes the distribution figures of w.
func summarize(w []float64) models.WeightSummary {
	if len(w) == 0 {
		return models.WeightSummary{}
	}
	mean, std := stat.MeanStdDev(w, nil)
	if len(w) == 1 {
		std = 0
	}
	return models.WeightSummary{
		Count:  len(w),
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(w),
		Max:    floats.Max(w),
	}
}
