package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"labelfusion/pkg/imageio"
)

// ImageEntry is one "<id> <file>" record of an image list.
type ImageEntry struct {
	ID   string
	Path string
}

// DeformationEntry is one "<moving> <fixed> <file>" record of a deformation
// list. The file deforms the moving image into the fixed image's frame.
type DeformationEntry struct {
	Moving string
	Fixed  string
	Path   string
}

// readFields splits r into whitespace separated tokens.
func readFields(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var fields []string
	for scanner.Scan() {
		fields = append(fields, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

// ParseImageList reads "<id> <file>" pairs.
func ParseImageList(r io.Reader) ([]ImageEntry, error) {
	fields, err := readFields(r)
	if err != nil {
		return nil, err
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: image list has a dangling id %q", ErrMalformedList, fields[len(fields)-1])
	}
	entries := make([]ImageEntry, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		entries = append(entries, ImageEntry{ID: fields[i], Path: fields[i+1]})
	}
	return entries, nil
}

// ParseDeformationList reads "<moving> <fixed> <file>" triples.
func ParseDeformationList(r io.Reader) ([]DeformationEntry, error) {
	fields, err := readFields(r)
	if err != nil {
		return nil, err
	}
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("%w: deformation list has %d trailing fields", ErrMalformedList, len(fields)%3)
	}
	entries := make([]DeformationEntry, 0, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		entries = append(entries, DeformationEntry{Moving: fields[i], Fixed: fields[i+1], Path: fields[i+2]})
	}
	return entries, nil
}

// ParseSupportList reads whitespace separated support sample ids.
func ParseSupportList(r io.Reader) (SupportSet, error) {
	fields, err := readFields(r)
	if err != nil {
		return nil, err
	}
	return NewSupportSet(fields...), nil
}

// LoadImages reads the image list at listPath and every image it names.
func LoadImages(listPath string) (*ImageSet, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open image list: %w", err)
	}
	defer f.Close()

	entries, err := ParseImageList(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", listPath, err)
	}

	set := NewImageSet()
	for _, e := range entries {
		if set.Has(e.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateImage, e.ID)
		}
		img, err := imageio.ReadImage(e.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", e.ID, err)
		}
		if err := set.Add(e.ID, img); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// LoadDeformations reads the deformation list at listPath. Entries for which
// keep returns false are skipped without touching their files; a nil keep
// loads everything. Every loaded entry must name images present in images.
func LoadDeformations(listPath string, images *ImageSet, keep func(moving, fixed string) bool) (*DeformationTable, error) {
	f, err := os.Open(listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open deformation list: %w", err)
	}
	defer f.Close()

	entries, err := ParseDeformationList(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", listPath, err)
	}

	table := NewDeformationTable()
	for _, e := range entries {
		if keep != nil && !keep(e.Moving, e.Fixed) {
			continue
		}
		if !images.Has(e.Moving) || !images.Has(e.Fixed) {
			return nil, fmt.Errorf("%w: %s or %s", ErrMissingImage, e.Moving, e.Fixed)
		}
		def, err := imageio.ReadDeformation(e.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load deformation %s -> %s: %w", e.Moving, e.Fixed, err)
		}
		table.Add(e.Moving, e.Fixed, def)
	}
	return table, nil
}

// LoadSupportSamples reads a support sample list.
func LoadSupportSamples(path string) (SupportSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open support sample list: %w", err)
	}
	defer f.Close()

	return ParseSupportList(f)
}
