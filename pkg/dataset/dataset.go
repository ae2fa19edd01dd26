// Package dataset holds the images, deformation fields and support samples
// of a fusion run, and loads them from the plain-text list files used by the
// command line tool.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"labelfusion/pkg/imaging"
)

var (
	// ErrDuplicateImage is returned when an image id is registered twice.
	ErrDuplicateImage = errors.New("duplicate image id")

	// ErrMissingImage is returned when an id does not name a loaded image.
	ErrMissingImage = errors.New("image not in image database")

	// ErrMissingDeformation is returned when no deformation was loaded for a
	// requested (moving, fixed) pair.
	ErrMissingDeformation = errors.New("deformation not loaded")

	// ErrMalformedList is returned for list files with dangling fields.
	ErrMalformedList = errors.New("malformed list file")
)

// ImageSet is an ordered collection of images keyed by id. The order is the
// registration order and determines the processing order of a run.
type ImageSet struct {
	ids    []string
	images map[string]*imaging.Image
}

// NewImageSet returns an empty set.
func NewImageSet() *ImageSet {
	return &ImageSet{images: make(map[string]*imaging.Image)}
}

// Add registers img under id.
func (s *ImageSet) Add(id string, img *imaging.Image) error {
	if _, ok := s.images[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateImage, id)
	}
	s.ids = append(s.ids, id)
	s.images[id] = img
	return nil
}

// IDs returns the ids in registration order.
func (s *ImageSet) IDs() []string { return append([]string(nil), s.ids...) }

// Len returns the number of images.
func (s *ImageSet) Len() int { return len(s.ids) }

// Has reports whether id is registered.
func (s *ImageSet) Has(id string) bool {
	_, ok := s.images[id]
	return ok
}

// Image returns the image registered under id.
func (s *ImageSet) Image(id string) (*imaging.Image, error) {
	img, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingImage, id)
	}
	return img, nil
}

// PixelCount returns the number of pixels of image id, or 0 if unknown.
func (s *ImageSet) PixelCount(id string) int {
	if img, ok := s.images[id]; ok {
		return img.Len()
	}
	return 0
}

// DeformationTable maps (moving, fixed) pairs to deformation fields.
//
// The field stored for (M, F) is defined on F's grid and holds, for each
// pixel of F, the physical displacement to the corresponding location in M.
// Warping M with it therefore resamples M into F's frame.
type DeformationTable struct {
	fields map[string]map[string]*imaging.DeformationField
	count  int
}

// NewDeformationTable returns an empty table.
func NewDeformationTable() *DeformationTable {
	return &DeformationTable{fields: make(map[string]map[string]*imaging.DeformationField)}
}

// Add stores def for the (moving, fixed) pair, replacing any previous entry.
func (t *DeformationTable) Add(moving, fixed string, def *imaging.DeformationField) {
	row, ok := t.fields[moving]
	if !ok {
		row = make(map[string]*imaging.DeformationField)
		t.fields[moving] = row
	}
	if _, ok := row[fixed]; !ok {
		t.count++
	}
	row[fixed] = def
}

// Deformation returns the field for (moving, fixed).
func (t *DeformationTable) Deformation(moving, fixed string) (*imaging.DeformationField, error) {
	if def, ok := t.fields[moving][fixed]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrMissingDeformation, moving, fixed)
}

// Len returns the number of stored pairs.
func (t *DeformationTable) Len() int { return t.count }

// SupportSet restricts which images contribute pairwise evidence. A nil set
// places no restriction.
type SupportSet map[string]struct{}

// NewSupportSet builds a set from ids.
func NewSupportSet(ids ...string) SupportSet {
	s := make(SupportSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is a support sample.
func (s SupportSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Active reports whether the set restricts anything.
func (s SupportSet) Active() bool { return s != nil }

// IDs returns the members in sorted order.
func (s SupportSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
