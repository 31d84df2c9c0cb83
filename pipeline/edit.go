package pipeline

import (
	"context"
	"sort"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/lineage"
)

// Names of edit operations used in logs and metrics
const (
	OpToggleDivision = "toggle_division"
	OpReassignBud    = "reassign_bud"
	OpDeleteCell     = "delete_cell"
	OpReseed         = "reseed_first_frame"
)

// ToggleDivision annotates or undoes division of a cell and its partner at frame t
func (c *Controller) ToggleDivision(ctx context.Context, id, t int) (lineage.Result, error) {
	return c.edit(ctx, OpToggleDivision, t, func() (lineage.Result, []int, error) {
		res, err := c.session.ToggleDivision(id, t)
		return res, res.Changed, err
	})
}

// ReassignBud makes newMotherID the mother of budID at frame t
func (c *Controller) ReassignBud(ctx context.Context, budID, newMotherID, t int) (lineage.Result, error) {
	return c.edit(ctx, OpReassignBud, t, func() (lineage.Result, []int, error) {
		res, err := c.session.ReassignBud(budID, newMotherID, t)
		return res, res.Changed, err
	})
}

// DeleteCell removes a cell (with its S partner) from frame t on, both from lineage and from label frames
func (c *Controller) DeleteCell(ctx context.Context, id, t int) (lineage.Result, error) {
	return c.edit(ctx, OpDeleteCell, t, func() (lineage.Result, []int, error) {
		res, err := c.session.DeleteCell(id, t)
		if err != nil {
			return res, nil, err
		}
		affected := make(map[int]struct{}, len(res.Changed))
		for _, k := range res.Changed {
			affected[k] = struct{}{}
		}
		for k := t; k < c.video.Len(); k++ {
			lab, _ := c.video.Frame(k)
			for _, removed := range res.Removed {
				if lab.Contains(removed) {
					affected[k] = struct{}{}
					break
				}
			}
		}
		c.video.EraseFrom(t, res.Removed...)
		return res, sortedFrames(affected), nil
	})
}

// ReseedFirstFrame replaces lineage table of the first frame, e.g. for analyses starting mid-cycle.
// When later frames are analysed the reset must be confirmed; their tables are then derived again from the new seed
func (c *Controller) ReseedFirstFrame(ctx context.Context, tbl lineage.Table, confirm bool) (lineage.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.reseed(tbl, confirm)
	if err == nil {
		err = c.persistFrames(ctx, res.Changed)
	}
	if err == nil && c.persister != nil {
		err = c.persister.SaveLineage(ctx, c.session.Timeline())
	}
	c.observeEdit(OpReseed, 0, 0, res, err)
	return res, err
}

func (c *Controller) reseed(tbl lineage.Table, confirm bool) (lineage.Result, error) {
	n := c.video.Len()
	if n == 0 {
		return lineage.Result{}, errs.New(errs.KindNotFound, 0, errs.NoCell, "first frame is not analysed")
	}
	first, _ := c.video.Frame(0)
	if err := checkKeys(errs.KindInput, 0, first, tbl); err != nil {
		return lineage.Result{}, err
	}
	snapshot := c.session.Timeline()
	res, err := c.session.Seed(tbl, confirm)
	if err != nil {
		return lineage.Result{}, err
	}
	warnings := append([]errs.Warning{}, res.Warnings...)
	changed := []int{0}
	for t := 1; t < n; t++ {
		lab, _ := c.video.Frame(t)
		advanced, err := c.session.Advance(t, lab)
		if err != nil {
			if loadErr := c.session.Load(snapshot); loadErr != nil {
				c.logger.Error().Err(loadErr).Msg("can't roll back reseed")
			}
			return lineage.Result{}, err
		}
		warnings = append(warnings, advanced.Warnings...)
		changed = append(changed, t)
	}
	res.Changed = changed
	res.Warnings = warnings
	return res, nil
}

type editFunc func() (lineage.Result, []int, error)

// edit runs lineage edit at analysed frame t and stores every affected frame
func (c *Controller) edit(ctx context.Context, op string, t int, fn editFunc) (lineage.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < 0 || t >= c.video.Len() {
		err := errs.Newf(errs.KindNotFound, t, errs.NoCell, "frame is not analysed (%d frames analysed)", c.video.Len())
		c.observeEdit(op, t, 0, lineage.Result{}, err)
		return lineage.Result{}, err
	}
	res, frames, err := fn()
	if err == nil {
		err = c.persistFrames(ctx, frames)
	}
	c.observeEdit(op, t, len(frames), res, err)
	return res, err
}

func (c *Controller) observeEdit(op string, t, stored int, res lineage.Result, err error) {
	c.metrics.ObserveEdit(op, err, len(res.Warnings))
	if err != nil {
		c.logger.Warn().Err(err).Str("operation", op).Int("frame", t).Msg("edit failed")
		return
	}
	for _, w := range res.Warnings {
		c.logger.Warn().Str("operation", op).Int("frame", w.Frame).Int("cell_id", w.CellID).Msg(w.Reason)
	}
	c.logger.Info().Str("operation", op).Int("frame", t).Ints("changed", res.Changed).Int("stored", stored).Msg("edit applied")
}

func sortedFrames(set map[int]struct{}) []int {
	frames := make([]int, 0, len(set))
	for t := range set {
		frames = append(frames, t)
	}
	sort.Ints(frames)
	return frames
}
