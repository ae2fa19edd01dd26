package fusion

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelfusion/pkg/imaging"
)

type recordingSink struct {
	saved map[string][]string
	fail  bool
}

func (s *recordingSink) SaveIntermediate(stage, id string, img *imaging.Image) error {
	if s.saved == nil {
		s.saved = make(map[string][]string)
	}
	s.saved[stage] = append(s.saved[stage], id)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestFuserProcess(t *testing.T) {
	cohort := cohortFixture{
		ids:       []string{"atlas", "a", "b"},
		intensity: sameIntensity,
	}.build(t)

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	sink := &recordingSink{}
	f := NewFuser(DefaultParams(), WithLogger(logger), WithIntermediates(sink))

	res, err := f.Process(context.Background(), cohort)
	require.NoError(t, err)
	require.Len(t, res.Segmentations, 2)

	want := createImage(t, 4, 4, func(x, y int) float64 {
		return Foreground * blockSegmentation(x, y)
	})
	for _, seg := range res.Segmentations {
		assert.Equal(t, want.Pix, seg.Image.Pix, seg.ID)
		img, err := cohort.Images.Image(seg.ID)
		require.NoError(t, err)
		assert.Same(t, img, seg.Image, "decoded in place")
	}

	stats := res.Stats
	assert.Equal(t, 32, stats.Nodes)
	assert.Equal(t, 32, stats.InterImageEdges)
	assert.Equal(t, 1.0, stats.Ratio)
	assert.Equal(t, 32, stats.EdgeWeights.Count)
	assert.Equal(t, 1.0, stats.EdgeWeights.Mean)
	assert.Equal(t, 0.0, stats.EdgeWeights.StdDev)
	assert.Equal(t, 32, stats.UnaryWeights.Count)
	require.Len(t, stats.Images, 2)
	assert.Equal(t, "a", stats.Images[0].ID)
	assert.Equal(t, 4, stats.Images[0].Foreground)
	assert.Equal(t, 0.25, stats.Images[0].ForegroundFraction())
	assert.InDelta(t, 1, stats.Images[0].AtlasCorrelation, 1e-9)
	for _, stage := range []string{"init", "pairwise", "unary", "optimization"} {
		assert.Contains(t, stats.Stages, stage)
	}

	assert.Equal(t, []string{"a", "b"}, sink.saved[StageSimilarity])
	assert.Equal(t, []string{"a", "b"}, sink.saved[StageWarpedAtlas])
	assert.Contains(t, buf.String(), "optimization done")
}

func TestFuserSinkFailuresAreWarnings(t *testing.T) {
	cohort := cohortFixture{ids: []string{"atlas", "a"}, intensity: sameIntensity}.build(t)

	var buf bytes.Buffer
	f := NewFuser(noPenalty(),
		WithLogger(log.NewWithOptions(&buf, log.Options{})),
		WithIntermediates(&recordingSink{fail: true}))

	_, err := f.Process(context.Background(), cohort)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "failed to save similarity map")
}

func TestFuserStopsOnCancelledContext(t *testing.T) {
	cohort := cohortFixture{ids: []string{"atlas", "a"}, intensity: sameIntensity}.build(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFuser(DefaultParams(), WithLogger(log.New(&bytes.Buffer{})))
	_, err := f.Process(ctx, cohort)
	assert.ErrorIs(t, err, context.Canceled)

	img, _ := cohort.Images.Image("a")
	assert.Equal(t, ramp(1, 1), img.Pix[5], "images untouched")
}

func TestFuserRejectsInvalidInput(t *testing.T) {
	cohort := cohortFixture{ids: []string{"atlas"}}.build(t)
	f := NewFuser(DefaultParams(), WithLogger(log.New(&bytes.Buffer{})))
	_, err := f.Process(context.Background(), cohort)
	assert.ErrorIs(t, err, ErrNoTargets)
}
