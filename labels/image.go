// Package labels implements primitives over label images: integer masks where 0 is
// background and every positive value identifies one cell.
package labels

import (
	"sort"

	"github.com/LdDl/budtrack/errs"
)

// Background is the label value of pixels that belong to no cell
const Background = 0

// Image is a 2D label image stored row-major
type Image struct {
	Height int
	Width  int
	Pix    []int32
}

// New allocates empty (all background) label image
func New(height, width int) Image {
	return Image{
		Height: height,
		Width:  width,
		Pix:    make([]int32, height*width),
	}
}

// FromRows builds label image from nested rows. All rows must have the same length
func FromRows(rows [][]int32) (Image, error) {
	if len(rows) == 0 {
		return Image{}, nil
	}
	width := len(rows[0])
	img := New(len(rows), width)
	for y, row := range rows {
		if len(row) != width {
			return Image{}, errs.Input(errs.NoFrame, "row %d has %d columns, expected %d", y, len(row), width)
		}
		copy(img.Pix[y*width:(y+1)*width], row)
	}
	return img, nil
}

// MustFromRows is FromRows which panics on malformed input. Intended for fixtures
func MustFromRows(rows [][]int32) Image {
	img, err := FromRows(rows)
	if err != nil {
		panic(err)
	}
	return img
}

// At returns label at (y, x)
func (img Image) At(y, x int) int {
	return int(img.Pix[y*img.Width+x])
}

// Set sets label at (y, x)
func (img Image) Set(y, x, id int) {
	img.Pix[y*img.Width+x] = int32(id)
}

// Inside reports whether (y, x) lies in the image
func (img Image) Inside(y, x int) bool {
	return y >= 0 && y < img.Height && x >= 0 && x < img.Width
}

// SameShape reports whether two images have equal dimensions
func (img Image) SameShape(other Image) bool {
	return img.Height == other.Height && img.Width == other.Width
}

// Empty reports whether image has no pixels at all
func (img Image) Empty() bool {
	return len(img.Pix) == 0
}

// Validate checks the pixel buffer against dimensions and rejects negative labels
func (img Image) Validate() error {
	if img.Height < 0 || img.Width < 0 || len(img.Pix) != img.Height*img.Width {
		return errs.Input(errs.NoFrame, "pixel buffer of %d values does not match %dx%d", len(img.Pix), img.Height, img.Width)
	}
	for i, v := range img.Pix {
		if v < 0 {
			return errs.Input(errs.NoFrame, "negative label %d at row %d, column %d", v, i/img.Width, i%img.Width)
		}
	}
	return nil
}

// Clone returns deep copy of image
func (img Image) Clone() Image {
	pix := make([]int32, len(img.Pix))
	copy(pix, img.Pix)
	return Image{Height: img.Height, Width: img.Width, Pix: pix}
}

// Equal reports whether two images have the same shape and labels
func (img Image) Equal(other Image) bool {
	if !img.SameShape(other) || len(img.Pix) != len(other.Pix) {
		return false
	}
	for i := range img.Pix {
		if img.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// IDs returns sorted unique positive labels
func (img Image) IDs() []int {
	seen := make(map[int32]struct{})
	for _, v := range img.Pix {
		if v > Background {
			seen[v] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for v := range seen {
		ids = append(ids, int(v))
	}
	sort.Ints(ids)
	return ids
}

// IDSet returns unique positive labels as a set
func (img Image) IDSet() map[int]struct{} {
	set := make(map[int]struct{})
	for _, v := range img.Pix {
		if v > Background {
			set[int(v)] = struct{}{}
		}
	}
	return set
}

// MaxID returns the largest label or 0 for an empty (background only) image
func (img Image) MaxID() int {
	maxID := int32(Background)
	for _, v := range img.Pix {
		if v > maxID {
			maxID = v
		}
	}
	return int(maxID)
}

// Contains reports whether id has at least one pixel
func (img Image) Contains(id int) bool {
	target := int32(id)
	for _, v := range img.Pix {
		if v == target {
			return true
		}
	}
	return false
}

// Rows returns nested-slice copy of image, handy for tests and JSON
func (img Image) Rows() [][]int32 {
	rows := make([][]int32, img.Height)
	for y := 0; y < img.Height; y++ {
		row := make([]int32, img.Width)
		copy(row, img.Pix[y*img.Width:(y+1)*img.Width])
		rows[y] = row
	}
	return rows
}
