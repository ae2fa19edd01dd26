package imaging

import "fmt"

// Image is a scalar image on a Geometry. Pix holds one value per pixel in
// linear order.
type Image struct {
	geom *Geometry
	Pix  []float64
}

// NewImage allocates a zero-valued image on g.
func NewImage(g *Geometry) *Image {
	return &Image{geom: g, Pix: make([]float64, g.Len())}
}

// NewImageFrom wraps pix, which must have exactly one value per pixel.
func NewImageFrom(g *Geometry, pix []float64) (*Image, error) {
	if len(pix) != g.Len() {
		return nil, fmt.Errorf("%w: %d values for a %s grid", ErrGeometry, len(pix), g)
	}
	return &Image{geom: g, Pix: pix}, nil
}

// Geometry returns the sampling grid of the image.
func (im *Image) Geometry() *Geometry { return im.geom }

// Len returns the number of pixels.
func (im *Image) Len() int { return len(im.Pix) }

// At returns the value at linear position i.
func (im *Image) At(i int) float64 { return im.Pix[i] }

// Set stores v at linear position i.
func (im *Image) Set(i int, v float64) { im.Pix[i] = v }

// AtIndex returns the value at a discrete index and whether the index is
// inside the image.
func (im *Image) AtIndex(idx []int) (float64, bool) {
	i, inside := im.geom.LinearIndex(idx)
	if !inside {
		return 0, false
	}
	return im.Pix[i], true
}

// Clone returns a deep copy sharing the (immutable) geometry.
func (im *Image) Clone() *Image {
	return &Image{geom: im.geom, Pix: append([]float64(nil), im.Pix...)}
}

// DeformationField stores one physical displacement vector per pixel of its
// grid. Vec is interleaved: the vector of pixel i occupies
// Vec[i*Dims() : (i+1)*Dims()].
type DeformationField struct {
	geom *Geometry
	Vec  []float64
}

// NewDeformationField allocates a zero (identity) displacement field on g.
func NewDeformationField(g *Geometry) *DeformationField {
	return &DeformationField{geom: g, Vec: make([]float64, g.Len()*g.Dims())}
}

// NewDeformationFieldFrom wraps interleaved displacement data.
func NewDeformationFieldFrom(g *Geometry, vec []float64) (*DeformationField, error) {
	if len(vec) != g.Len()*g.Dims() {
		return nil, fmt.Errorf("%w: %d components for a %d-d %s grid", ErrGeometry, len(vec), g.Dims(), g)
	}
	return &DeformationField{geom: g, Vec: vec}, nil
}

// Geometry returns the grid the field is defined on.
func (f *DeformationField) Geometry() *Geometry { return f.geom }

// Len returns the number of vectors.
func (f *DeformationField) Len() int { return f.geom.Len() }

// Displacement returns the vector stored at linear position i. The returned
// slice aliases the field.
func (f *DeformationField) Displacement(i int) []float64 {
	d := f.geom.Dims()
	return f.Vec[i*d : (i+1)*d]
}

// SetDisplacement stores v at linear position i.
func (f *DeformationField) SetDisplacement(i int, v []float64) {
	copy(f.Displacement(i), v)
}

// Fill sets every vector of the field to v, giving a pure translation.
func (f *DeformationField) Fill(v []float64) {
	for i := 0; i < f.Len(); i++ {
		f.SetDisplacement(i, v)
	}
}
