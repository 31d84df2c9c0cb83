package segment

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

// Segmenter maps an intensity image to a label image of the same height and width.
// Concurrent calls on one instance are not required to be safe
type Segmenter interface {
	Name() string
	Segment(ctx context.Context, img Image) (labels.Image, error)
}

// Factory constructs a segmenter
type Factory func() (Segmenter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		IdentityName: func() (Segmenter, error) { return Identity{}, nil },
	}
)

// Register makes segmenter available by name. Registering the same name twice replaces the factory
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New constructs registered segmenter
func New(name string) (Segmenter, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("cannot find segmenter %q in registry", name)
	}
	segmenter, err := factory()
	if err != nil {
		return nil, Failed(name, errors.Wrap(err, "can't construct segmenter"))
	}
	return segmenter, nil
}

// Names returns sorted names of registered segmenters
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed wraps failure of named segmenter as a recoverable segmenter error
func Failed(name string, err error) error {
	return errs.Wrap(err, errs.KindSegmenter, errs.NoFrame, errs.NoCell, "segmenter "+name+" failed")
}

// IdentityName is registry name of Identity
const IdentityName = "identity"

// Identity treats intensities as labels: values are rounded to integers.
// It serves pipelines fed with precomputed label frames
type Identity struct{}

// Name returns registry name
func (Identity) Name() string {
	return IdentityName
}

// Segment rounds intensities of the max projection to labels
func (Identity) Segment(ctx context.Context, img Image) (labels.Image, error) {
	if err := ctx.Err(); err != nil {
		return labels.Image{}, err
	}
	if err := img.Validate(); err != nil {
		return labels.Image{}, Failed(IdentityName, err)
	}
	plane := img.MaxProjection()
	out := labels.New(plane.Height, plane.Width)
	for i, v := range plane.Pix {
		rounded := math.Round(float64(v))
		if rounded < 0 || rounded > math.MaxInt32 || math.IsNaN(rounded) {
			return labels.Image{}, Failed(IdentityName, errors.Errorf("value %v at %d is not a label", v, i))
		}
		out.Pix[i] = int32(rounded)
	}
	return out, nil
}

// FromLabels converts label image to intensity image accepted by Identity
func FromLabels(lab labels.Image) Image {
	img := NewImage(1, lab.Height, lab.Width)
	for i, v := range lab.Pix {
		img.Pix[i] = float32(v)
	}
	return img
}
