// Package segment is the facade over segmentation models: anything that maps an intensity
// image to a label image. Callers depend on the Segmenter interface only.
package segment

import (
	"github.com/LdDl/budtrack/errs"
)

// Image is a single channel intensity image, 2D (Depth == 1) or 3D, stored z-major then row-major
type Image struct {
	Depth  int
	Height int
	Width  int
	Pix    []float32
}

// NewImage allocates zero image
func NewImage(depth, height, width int) Image {
	if depth < 1 {
		depth = 1
	}
	return Image{
		Depth:  depth,
		Height: height,
		Width:  width,
		Pix:    make([]float32, depth*height*width),
	}
}

// FromUint16 wraps 2D unsigned 16-bit samples
func FromUint16(height, width int, samples []uint16) Image {
	img := NewImage(1, height, width)
	for i, v := range samples {
		if i >= len(img.Pix) {
			break
		}
		img.Pix[i] = float32(v)
	}
	return img
}

// At returns intensity at (z, y, x)
func (img Image) At(z, y, x int) float32 {
	return img.Pix[(z*img.Height+y)*img.Width+x]
}

// Set sets intensity at (z, y, x)
func (img Image) Set(z, y, x int, v float32) {
	img.Pix[(z*img.Height+y)*img.Width+x] = v
}

// Is3D reports whether image has more than one plane
func (img Image) Is3D() bool {
	return img.Depth > 1
}

// Validate checks pixel buffer against dimensions
func (img Image) Validate() error {
	if img.Depth < 1 || img.Height < 1 || img.Width < 1 {
		return errs.Input(errs.NoFrame, "intensity image has empty shape %dx%dx%d", img.Depth, img.Height, img.Width)
	}
	if len(img.Pix) != img.Depth*img.Height*img.Width {
		return errs.Input(errs.NoFrame, "pixel buffer of %d values does not match %dx%dx%d", len(img.Pix), img.Depth, img.Height, img.Width)
	}
	return nil
}

// MaxProjection collapses depth by taking maximum along z. 2D images are returned as is
func (img Image) MaxProjection() Image {
	if !img.Is3D() {
		return img
	}
	out := NewImage(1, img.Height, img.Width)
	plane := img.Height * img.Width
	copy(out.Pix, img.Pix[:plane])
	for z := 1; z < img.Depth; z++ {
		offset := z * plane
		for i := 0; i < plane; i++ {
			if v := img.Pix[offset+i]; v > out.Pix[i] {
				out.Pix[i] = v
			}
		}
	}
	return out
}

// Clone returns deep copy
func (img Image) Clone() Image {
	pix := make([]float32, len(img.Pix))
	copy(pix, img.Pix)
	return Image{Depth: img.Depth, Height: img.Height, Width: img.Width, Pix: pix}
}
