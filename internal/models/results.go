package models

import "time"

// ImageResult summarises the segmentation of one image
type ImageResult struct {
	// ID is the image identifier from the image list
	ID string

	// Pixels is the number of nodes the image contributed
	Pixels int

	// Foreground is the number of pixels labelled foreground
	Foreground int

	// AtlasCorrelation is the whole-image NCC between the image and the
	// atlas warped onto it; zero for the atlas itself
	AtlasCorrelation float64

	// OutputPath is where the segmentation was written, if it was
	OutputPath string
}

// ForegroundFraction returns Foreground/Pixels.
func (r ImageResult) ForegroundFraction() float64 {
	if r.Pixels == 0 {
		return 0
	}
	return float64(r.Foreground) / float64(r.Pixels)
}

// WeightSummary describes the distribution of a set of similarity weights
type WeightSummary struct {
	Count  int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// RunStats holds the figures reported after a fusion run
type RunStats struct {
	// Nodes is the number of graph nodes
	Nodes int

	// InterImageEdges and GridEdges count the inserted edges by kind
	InterImageEdges int
	GridEdges       int

	// Ratio is the unary/pairwise balancing factor that was applied
	Ratio float64

	// Flow is the value of the maximum flow, i.e. the minimum energy
	Flow float64

	// EdgeWeights summarises the similarity of inter-image edges
	EdgeWeights WeightSummary

	// UnaryWeights summarises the atlas similarity of target pixels
	UnaryWeights WeightSummary

	// Images holds one entry per segmented image in processing order
	Images []ImageResult

	// Stages records the wall time of each pipeline stage
	Stages map[string]time.Duration
}
