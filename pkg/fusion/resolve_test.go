package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelfusion/pkg/imaging"
)

func TestResolve(t *testing.T) {
	src := imaging.NewUniformGeometry(4, 4)
	coarse, err := imaging.NewGeometry([]int{2, 2}, []float64{2, 2}, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		dst        *imaging.Geometry
		pixel      int
		disp       []float64
		want       int
		wantInside bool
	}{
		{"identity", src, 6, []float64{0, 0}, 6, true},
		{"translation", src, 0, []float64{1, 2}, 9, true},
		{"rounds to nearest", src, 0, []float64{1.4, 0.6}, 5, true},
		{"half rounds up", src, 0, []float64{0.5, 0}, 1, true},
		{"outside high", src, 3, []float64{1, 0}, 0, false},
		{"outside low", src, 0, []float64{0, -0.6}, 0, false},
		{"coarser target", coarse, 10, []float64{0, 0}, 3, true},
		{"coarser target rounding", coarse, 4, []float64{0, 0}, 2, true},
		{"past coarser target", coarse, 15, []float64{0, 0}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, inside := NewResolver(src, tt.dst).Resolve(tt.pixel, tt.disp)
			assert.Equal(t, tt.wantInside, inside)
			if tt.wantInside {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
