package segment

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Normaliser rescales intensities so that the low percentile maps to 0 and the high one to 1,
// then clips to [0, 1]
type Normaliser struct {
	LowPercentile  float64
	HighPercentile float64
}

// DefaultNormaliser uses 1st and 99.9th percentiles
func DefaultNormaliser() Normaliser {
	return Normaliser{
		LowPercentile:  0.01,
		HighPercentile: 0.999,
	}
}

// Bounds returns intensities at low and high percentiles
func (n Normaliser) Bounds(img Image) (float64, float64) {
	if len(img.Pix) == 0 {
		return 0, 0
	}
	values := make([]float64, len(img.Pix))
	for i, v := range img.Pix {
		values[i] = float64(v)
	}
	sort.Float64s(values)
	low := stat.Quantile(n.LowPercentile, stat.Empirical, values, nil)
	high := stat.Quantile(n.HighPercentile, stat.Empirical, values, nil)
	return low, high
}

// Apply returns normalised copy of image
func (n Normaliser) Apply(img Image) Image {
	out := img.Clone()
	low, high := n.Bounds(img)
	span := high - low
	for i, v := range img.Pix {
		if span <= 0 {
			out.Pix[i] = 0
			continue
		}
		scaled := (float64(v) - low) / span
		if scaled < 0 {
			scaled = 0
		} else if scaled > 1 {
			scaled = 1
		}
		out.Pix[i] = float32(scaled)
	}
	return out
}

// ToUint8 converts normalised image plane z to 8-bit samples
func ToUint8(img Image, z int) []uint8 {
	plane := img.Height * img.Width
	out := make([]uint8, plane)
	offset := z * plane
	for i := 0; i < plane; i++ {
		v := img.Pix[offset+i]
		if v <= 0 {
			continue
		}
		if v >= 1 {
			out[i] = 255
			continue
		}
		out[i] = uint8(v*255 + 0.5)
	}
	return out
}
