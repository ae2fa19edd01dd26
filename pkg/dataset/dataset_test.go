package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelfusion/pkg/imageio"
	"labelfusion/pkg/imaging"
)

func TestParseImageList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ImageEntry
		wantErr bool
	}{
		{
			name:  "one pair per line",
			input: "a a.png\nb b.png\n",
			want:  []ImageEntry{{"a", "a.png"}, {"b", "b.png"}},
		},
		{
			name:  "arbitrary whitespace",
			input: "  a\ta.png   b\n\nb.png",
			want:  []ImageEntry{{"a", "a.png"}, {"b", "b.png"}},
		},
		{
			name:  "empty",
			input: "",
			want:  []ImageEntry{},
		},
		{
			name:    "dangling id",
			input:   "a a.png b",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImageList(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedList)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDeformationList(t *testing.T) {
	got, err := ParseDeformationList(strings.NewReader("a b ab.mgz\nb a ba.mgz\n"))
	require.NoError(t, err)
	assert.Equal(t, []DeformationEntry{
		{Moving: "a", Fixed: "b", Path: "ab.mgz"},
		{Moving: "b", Fixed: "a", Path: "ba.mgz"},
	}, got)

	_, err = ParseDeformationList(strings.NewReader("a b ab.mgz b a"))
	assert.ErrorIs(t, err, ErrMalformedList)
}

func TestSupportSet(t *testing.T) {
	var none SupportSet
	assert.False(t, none.Active())
	assert.False(t, none.Has("a"))

	s, err := ParseSupportList(strings.NewReader("c a\nb"))
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has("d"))
	assert.Equal(t, []string{"a", "b", "c"}, s.IDs())

	empty := NewSupportSet()
	assert.True(t, empty.Active(), "an empty list still restricts")
}

func TestImageSet(t *testing.T) {
	set := NewImageSet()
	img := imaging.NewImage(imaging.NewUniformGeometry(3, 2))
	require.NoError(t, set.Add("z", img))
	require.NoError(t, set.Add("a", img))

	assert.ErrorIs(t, set.Add("z", img), ErrDuplicateImage)
	assert.Equal(t, []string{"z", "a"}, set.IDs())
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, 6, set.PixelCount("a"))
	assert.Equal(t, 0, set.PixelCount("missing"))

	_, err := set.Image("missing")
	assert.ErrorIs(t, err, ErrMissingImage)
}

func TestDeformationTable(t *testing.T) {
	table := NewDeformationTable()
	def := imaging.NewDeformationField(imaging.NewUniformGeometry(2, 2))
	table.Add("a", "b", def)
	table.Add("a", "b", def)
	table.Add("b", "a", def)
	assert.Equal(t, 2, table.Len())

	got, err := table.Deformation("a", "b")
	require.NoError(t, err)
	assert.Same(t, def, got)

	_, err = table.Deformation("a", "c")
	assert.ErrorIs(t, err, ErrMissingDeformation)
}

// writeCohort stores n 4x4 images and all pairwise deformations under dir
// and returns the paths of the two list files.
func writeCohort(t *testing.T, dir string, n int) (imageList, defList string) {
	t.Helper()
	g := imaging.NewUniformGeometry(4, 4)

	var images, defs strings.Builder
	for i := 0; i < n; i++ {
		img := imaging.NewImage(g)
		for p := range img.Pix {
			img.Pix[p] = float64(100*i + p)
		}
		path := filepath.Join(dir, fmt.Sprintf("img%d.png", i))
		require.NoError(t, imageio.WriteImage(path, img))
		fmt.Fprintf(&images, "img%d %s\n", i, path)

		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			def := imaging.NewDeformationField(g)
			def.Fill([]float64{float64(i), float64(j)})
			path := filepath.Join(dir, fmt.Sprintf("def%d_%d.mgz", i, j))
			require.NoError(t, imageio.WriteDeformation(path, def))
			fmt.Fprintf(&defs, "img%d img%d %s\n", i, j, path)
		}
	}

	imageList = filepath.Join(dir, "images.txt")
	defList = filepath.Join(dir, "deformations.txt")
	require.NoError(t, os.WriteFile(imageList, []byte(images.String()), 0644))
	require.NoError(t, os.WriteFile(defList, []byte(defs.String()), 0644))
	return imageList, defList
}

func TestLoadCohort(t *testing.T) {
	dir := t.TempDir()
	imageList, defList := writeCohort(t, dir, 3)

	images, err := LoadImages(imageList)
	require.NoError(t, err)
	assert.Equal(t, []string{"img0", "img1", "img2"}, images.IDs())

	img, err := images.Image("img1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, img.At(0))
	assert.Equal(t, 115.0, img.At(15))

	t.Run("all pairs", func(t *testing.T) {
		defs, err := LoadDeformations(defList, images, nil)
		require.NoError(t, err)
		assert.Equal(t, 6, defs.Len())

		def, err := defs.Deformation("img2", "img0")
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 0}, def.Displacement(5))
	})

	t.Run("filtered", func(t *testing.T) {
		defs, err := LoadDeformations(defList, images, func(moving, fixed string) bool {
			return fixed == "img0"
		})
		require.NoError(t, err)
		assert.Equal(t, 2, defs.Len())
		_, err = defs.Deformation("img0", "img1")
		assert.ErrorIs(t, err, ErrMissingDeformation)
	})

	t.Run("unknown image", func(t *testing.T) {
		subset := NewImageSet()
		require.NoError(t, subset.Add("img0", img))
		_, err := LoadDeformations(defList, subset, nil)
		assert.ErrorIs(t, err, ErrMissingImage)
	})
}

func TestLoadImagesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadImages(filepath.Join(dir, "absent.txt"))
	assert.Error(t, err)

	dup := filepath.Join(dir, "dup.txt")
	imgPath := filepath.Join(dir, "x.png")
	require.NoError(t, imageio.WriteImage(imgPath, imaging.NewImage(imaging.NewUniformGeometry(2, 2))))
	require.NoError(t, os.WriteFile(dup, []byte("x "+imgPath+"\nx "+imgPath+"\n"), 0644))
	_, err = LoadImages(dup)
	assert.ErrorIs(t, err, ErrDuplicateImage)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("x "+filepath.Join(dir, "missing.png")), 0644))
	_, err = LoadImages(bad)
	assert.Error(t, err)
}
