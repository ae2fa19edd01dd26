package fusion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"labelfusion/pkg/dataset"
	"labelfusion/pkg/imaging"
)

// createImage builds a width x height image from f.
func createImage(t *testing.T, width, height int, f func(x, y int) float64) *imaging.Image {
	t.Helper()
	img := imaging.NewImage(imaging.NewUniformGeometry(width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(y*width+x, f(x, y))
		}
	}
	return img
}

// blockSegmentation labels the 2x2 block at (1,1)-(2,2).
func blockSegmentation(x, y int) float64 {
	if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
		return 1
	}
	return 0
}

// ramp gives every pixel a distinct intensity.
func ramp(x, y int) float64 { return float64(10*y + 3*x) }

type cohortFixture struct {
	ids       []string
	size      int
	intensity func(id string, x, y int) float64
	seg       func(x, y int) float64
	// shift returns the constant displacement of (moving, fixed); nil means
	// zero everywhere
	shift   func(moving, fixed string) []float64
	skip    func(moving, fixed string) bool
	support dataset.SupportSet
}

// build creates a cohort whose first id is the atlas and that holds a
// deformation for every ordered pair not skipped.
func (fx cohortFixture) build(t *testing.T) *Cohort {
	t.Helper()
	size := fx.size
	if size == 0 {
		size = 4
	}
	intensity := fx.intensity
	if intensity == nil {
		intensity = func(string, int, int) float64 { return 0 }
	}
	seg := fx.seg
	if seg == nil {
		seg = blockSegmentation
	}

	images := dataset.NewImageSet()
	for _, id := range fx.ids {
		id := id
		require.NoError(t, images.Add(id, createImage(t, size, size, func(x, y int) float64 {
			return intensity(id, x, y)
		})))
	}

	defs := dataset.NewDeformationTable()
	for _, m := range fx.ids {
		for _, f := range fx.ids {
			if m == f || (fx.skip != nil && fx.skip(m, f)) {
				continue
			}
			def := imaging.NewDeformationField(imaging.NewUniformGeometry(size, size))
			if fx.shift != nil {
				def.Fill(fx.shift(m, f))
			}
			defs.Add(m, f, def)
		}
	}

	return &Cohort{
		Images:            images,
		AtlasID:           fx.ids[0],
		AtlasSegmentation: createImage(t, size, size, seg),
		Deformations:      defs,
		Support:           fx.support,
	}
}

// sameIntensity gives every image the ramp pattern.
func sameIntensity(_ string, x, y int) float64 { return ramp(x, y) }

func noPenalty() Params {
	p := DefaultParams()
	p.ConnectivityPenalty = 0
	return p
}
