// Package cvseg provides OpenCV backed segmenters
package cvseg

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/segment"
)

// OtsuName is registry name of Otsu
const OtsuName = "otsu"

func init() {
	segment.Register(OtsuName, func() (segment.Segmenter, error) {
		return NewOtsu(), nil
	})
}

// Otsu segments bright cells on dark background: percentile normalisation, CLAHE local contrast
// equalisation, Gaussian blur, global Otsu threshold and 8-connected components
type Otsu struct {
	Normaliser    segment.Normaliser
	UseCLAHE      bool
	ClipLimit     float64
	TileSize      int
	BlurKernel    int
	Invert        bool
	MinObjectSize int
}

// NewOtsu returns segmenter with CLAHE clip limit 3 on 8x8 tiles and 5x5 blur
func NewOtsu() *Otsu {
	return &Otsu{
		Normaliser: segment.DefaultNormaliser(),
		UseCLAHE:   true,
		ClipLimit:  3.0,
		TileSize:   8,
		BlurKernel: 5,
	}
}

// Name returns registry name
func (o *Otsu) Name() string {
	return OtsuName
}

// Segment returns label image of connected foreground components
func (o *Otsu) Segment(ctx context.Context, img segment.Image) (labels.Image, error) {
	select {
	case <-ctx.Done():
		return labels.Image{}, ctx.Err()
	default:
	}
	if err := img.Validate(); err != nil {
		return labels.Image{}, segment.Failed(OtsuName, err)
	}
	plane := o.Normaliser.Apply(img.MaxProjection())
	gray, err := gocv.NewMatFromBytes(plane.Height, plane.Width, gocv.MatTypeCV8UC1, segment.ToUint8(plane, 0))
	if err != nil {
		return labels.Image{}, segment.Failed(OtsuName, errors.Wrap(err, "can't create source Mat"))
	}
	defer gray.Close()

	if o.UseCLAHE {
		clahe := gocv.NewCLAHEWithParams(o.ClipLimit, image.Point{X: o.TileSize, Y: o.TileSize})
		defer clahe.Close()
		enhanced := gocv.NewMat()
		defer enhanced.Close()
		clahe.Apply(gray, &enhanced)
		enhanced.CopyTo(&gray)
	}
	if o.BlurKernel > 1 {
		blurred := gocv.NewMat()
		defer blurred.Close()
		gocv.GaussianBlur(gray, &blurred, image.Point{X: o.BlurKernel, Y: o.BlurKernel}, 0, 0, gocv.BorderDefault)
		blurred.CopyTo(&gray)
	}

	binary := gocv.NewMat()
	defer binary.Close()
	thresholdType := gocv.ThresholdBinary
	if o.Invert {
		thresholdType = gocv.ThresholdBinaryInv
	}
	gocv.Threshold(gray, &binary, 0, 255, thresholdType+gocv.ThresholdOtsu)

	components := gocv.NewMat()
	defer components.Close()
	count := gocv.ConnectedComponents(binary, &components)

	out := labels.New(plane.Height, plane.Width)
	if count <= 1 {
		return out, nil
	}
	for y := 0; y < components.Rows(); y++ {
		for x := 0; x < components.Cols(); x++ {
			out.Set(y, x, int(components.GetIntAt(y, x)))
		}
	}
	labels.RemoveSmallObjects(out, o.MinObjectSize)
	return out, nil
}
