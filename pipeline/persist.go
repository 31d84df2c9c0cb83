package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/lineage"
)

// Persister stores analysed frames of a position. SaveFrame must be atomic for the frame:
// either both label frame and lineage table are stored or the previous state is kept
type Persister interface {
	SaveFrame(ctx context.Context, t int, lab labels.Image, tbl lineage.Table) error
	SaveLineage(ctx context.Context, tl lineage.Timeline) error
	// SaveNextFreeID stores ID which the position issues next, so deleted IDs stay retired after a restore
	SaveNextFreeID(ctx context.Context, next int) error
}

// Persisters fans writes out to every persister in order, e.g. blob storage mirrored to SQL
type Persisters []Persister

// SaveFrame calls every persister
func (ps Persisters) SaveFrame(ctx context.Context, t int, lab labels.Image, tbl lineage.Table) error {
	for i, p := range ps {
		if err := p.SaveFrame(ctx, t, lab, tbl); err != nil {
			return errors.Wrapf(err, "persister %d", i)
		}
	}
	return nil
}

// SaveLineage calls every persister
func (ps Persisters) SaveLineage(ctx context.Context, tl lineage.Timeline) error {
	for i, p := range ps {
		if err := p.SaveLineage(ctx, tl); err != nil {
			return errors.Wrapf(err, "persister %d", i)
		}
	}
	return nil
}

// SaveNextFreeID calls every persister
func (ps Persisters) SaveNextFreeID(ctx context.Context, next int) error {
	for i, p := range ps {
		if err := p.SaveNextFreeID(ctx, next); err != nil {
			return errors.Wrapf(err, "persister %d", i)
		}
	}
	return nil
}
