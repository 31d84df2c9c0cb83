package lineage

import (
	"sort"

	"github.com/LdDl/budtrack/errs"
)

// Check verifies pairing, bud, frame ordering, division and persistence invariants on every frame
func Check(tl Timeline) error {
	frames := make([]int, 0, len(tl))
	for t := range tl {
		frames = append(frames, t)
	}
	return checkFrames(tl, frames)
}

// checkFrames verifies invariants touching given frames only
func checkFrames(tl Timeline, frames []int) error {
	sort.Ints(frames)
	visitedTransitions := make(map[int]struct{}, len(frames)*2)
	for _, t := range frames {
		if !tl.IsSet(t) {
			continue
		}
		if err := checkTable(tl[t], t); err != nil {
			return err
		}
		// A change at t may break transitions into t and out of t
		for _, k := range []int{t, t + 1} {
			if _, ok := visitedTransitions[k]; ok {
				continue
			}
			visitedTransitions[k] = struct{}{}
			if err := checkTransition(tl, k); err != nil {
				return err
			}
		}
		if err := checkPersistence(tl, t); err != nil {
			return err
		}
	}
	return nil
}

// checkTable verifies records of a single frame
func checkTable(tbl Table, t int) error {
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		if id <= 0 {
			return errs.Newf(errs.KindInvariant, t, id, "cell id must be positive")
		}
		if rec.CyclesCount < 0 {
			return errs.Newf(errs.KindInvariant, t, id, "negative cycles count %d", rec.CyclesCount)
		}
		if rec.Relationship == RelationshipBud && rec.CyclesCount != 0 {
			return errs.Newf(errs.KindInvariant, t, id, "bud has cycles count %d", rec.CyclesCount)
		}
		if rec.EmergenceFrame != NoFrame && rec.DivisionFrame != NoFrame && rec.DivisionFrame < rec.EmergenceFrame {
			return errs.Newf(errs.KindInvariant, t, id, "division frame %d precedes emergence frame %d", rec.DivisionFrame, rec.EmergenceFrame)
		}
		if rec.Stage != StageS {
			continue
		}
		rel := rec.RelativeID
		if rel == Unresolved && rec.Relationship == RelationshipBud {
			continue
		}
		if rel <= 0 {
			return errs.Newf(errs.KindInvariant, t, id, "cell in S has no partner (relative %d)", rel)
		}
		partner, ok := tbl[rel]
		if !ok {
			return errs.Newf(errs.KindInvariant, t, id, "partner %d is absent", rel)
		}
		if partner.Stage != StageS {
			return errs.Newf(errs.KindInvariant, t, id, "partner %d is in %s", rel, partner.Stage)
		}
		if partner.Relationship == rec.Relationship {
			return errs.Newf(errs.KindInvariant, t, id, "partner %d has the same relationship %s", rel, rec.Relationship)
		}
		if partner.RelativeID != id {
			return errs.Newf(errs.KindInvariant, t, id, "partner %d points to %d", rel, partner.RelativeID)
		}
	}
	return nil
}

// checkTransition verifies S -> G1 transitions between frames t-1 and t
func checkTransition(tl Timeline, t int) error {
	if t < 1 || !tl.IsSet(t) || !tl.IsSet(t-1) {
		return nil
	}
	curr, prev := tl[t], tl[t-1]
	for _, id := range curr.IDs() {
		rec := curr[id]
		before, ok := prev[id]
		if !ok || before.Stage != StageS || rec.Stage != StageG1 {
			continue
		}
		rel := before.RelativeID
		partner, okCurr := curr[rel]
		partnerBefore, okPrev := prev[rel]
		if rel <= 0 || !okCurr || !okPrev {
			// Partner vanished: the cell was released, not divided
			continue
		}
		if partner.Stage != StageG1 {
			return errs.Newf(errs.KindInvariant, t, id, "divided while partner %d stays in %s", rel, partner.Stage)
		}
		if rec.CyclesCount != before.CyclesCount+1 {
			return errs.Newf(errs.KindInvariant, t, id, "cycles count went from %d to %d on division", before.CyclesCount, rec.CyclesCount)
		}
		if partner.CyclesCount != partnerBefore.CyclesCount+1 {
			return errs.Newf(errs.KindInvariant, t, rel, "cycles count went from %d to %d on division", partnerBefore.CyclesCount, partner.CyclesCount)
		}
	}
	return nil
}

// checkPersistence verifies that cells of frame t do not reappear after vanishing
func checkPersistence(tl Timeline, t int) error {
	tbl := tl[t]
	for _, id := range tbl.IDs() {
		// Appeared at t: must not have been seen before
		if !hasCell(tl, t-1, id) {
			for k := t - 2; k >= 0; k-- {
				if hasCell(tl, k, id) {
					return errs.Newf(errs.KindInvariant, t, id, "cell reappears after vanishing at frame %d", k+1)
				}
			}
		}
		// Vanishes after t: must not come back later
		if t+1 < len(tl) && tl.IsSet(t+1) && !hasCell(tl, t+1, id) {
			for k := t + 2; k < len(tl); k++ {
				if hasCell(tl, k, id) {
					return errs.Newf(errs.KindInvariant, k, id, "cell reappears after vanishing at frame %d", t+1)
				}
			}
		}
	}
	return nil
}

func hasCell(tl Timeline, t, id int) bool {
	if !tl.IsSet(t) {
		return false
	}
	_, ok := tl[t][id]
	return ok
}
