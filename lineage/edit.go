package lineage

import (
	"fmt"
	"sort"

	"github.com/LdDl/budtrack/errs"
)

// ReassignBud corrects the mother of a bud at frame t. The wrong mother returns to the record it had
// before the bud emerged, the new mother pairs with the bud. Corrections are applied from the bud
// emergence frame up to t and forward while the cell is still a bud.
// A new mother which is not in G1 is accepted with a warning; its current bud becomes unresolved.
func (s *Session) ReassignBud(budID, newMotherID, t int) (Result, error) {
	bud, ok := s.tl.Record(t, budID)
	if !ok {
		return Result{}, errs.Newf(errs.KindNotFound, t, budID, "cell has no lineage record")
	}
	if bud.Relationship != RelationshipBud || bud.Stage != StageS {
		return Result{}, errs.Newf(errs.KindRejected, t, budID, "cell is not a bud in S")
	}
	if newMotherID == budID {
		return Result{}, errs.Newf(errs.KindRejected, t, budID, "bud can't be its own mother")
	}
	mother, ok := s.tl.Record(t, newMotherID)
	if !ok {
		return Result{}, errs.Newf(errs.KindNotFound, t, newMotherID, "new mother has no lineage record")
	}
	if mother.Relationship == RelationshipBud {
		return Result{}, errs.Newf(errs.KindRejected, t, newMotherID, "new mother is a bud itself")
	}
	warnings := make([]errs.Warning, 0)
	if mother.Stage != StageG1 {
		warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: t, CellID: newMotherID, Reason: fmt.Sprintf("new mother is in %s, its current bud must be reassigned too", mother.Stage)})
	}
	if bud.RelativeID == newMotherID {
		return Result{Frame: t, Table: s.tl[t].Clone(), Changed: []int{}, Warnings: warnings}, nil
	}

	emergence := bud.EmergenceFrame
	if emergence == NoFrame || emergence > t {
		emergence = t
	}
	frames := []int{t}
	if s.opts.PropagateEdits {
		frames = frames[:0]
		for k := emergence; k <= t; k++ {
			frames = append(frames, k)
		}
		for k := t + 1; k < len(s.tl); k++ {
			rec, ok := s.tl.Record(k, budID)
			if !ok || rec.Relationship != RelationshipBud || rec.Stage != StageS {
				break
			}
			frames = append(frames, k)
		}
	}

	d := newDraft(s.tl)
	orphaned := make(map[int]struct{})
	for _, k := range frames {
		b, ok := d.record(k, budID)
		if !ok {
			continue
		}
		if wrong := b.RelativeID; wrong > 0 && wrong != newMotherID {
			if w, ok := d.record(k, wrong); ok && w.pairedWith(budID) {
				d.put(k, wrong, revertMother(d, wrong, emergence, w))
			}
		}
		m, ok := d.record(k, newMotherID)
		if !ok {
			b.RelativeID = Unresolved
			d.put(k, budID, b)
			warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: k, CellID: budID, Reason: fmt.Sprintf("mother %d is absent, bud is unresolved", newMotherID)})
			continue
		}
		if m.Stage == StageS && m.RelativeID > 0 && m.RelativeID != budID {
			other := m.RelativeID
			if x, ok := d.record(k, other); ok && x.pairedWith(newMotherID) {
				x.RelativeID = Unresolved
				d.put(k, other, x)
				if _, seen := orphaned[other]; !seen {
					orphaned[other] = struct{}{}
					warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: k, CellID: other, Reason: fmt.Sprintf("mother %d was given to bud %d, bud is unresolved", newMotherID, budID)})
				}
			}
		}
		m.Stage = StageS
		m.RelativeID = budID
		m.Relationship = RelationshipMother
		d.put(k, newMotherID, m)
		b.RelativeID = newMotherID
		d.put(k, budID, b)
	}
	if err := s.commit(d); err != nil {
		return Result{}, err
	}
	s.manualMothers[newMotherID] = struct{}{}
	for other := range orphaned {
		s.displaced[other] = newMotherID
	}
	return Result{Frame: t, Table: s.tl[t].Clone(), Changed: d.changed(), Warnings: warnings}, nil
}

// revertMother returns record of a wrongly paired mother as it was before the bud emerged
func revertMother(d *draft, id, emergence int, current Record) Record {
	if before, ok := d.record(emergence-1, id); ok && before.Stage == StageG1 {
		return adopt(before, current)
	}
	current.Stage = StageG1
	current.RelativeID = NoRelative
	current.Relationship = RelationshipMother
	return current
}

// DeleteCell removes a cell from frame t and every later frame. A cell in an S pair at frame t is
// removed together with its partner. Returned Result.Removed lists every removed CellID:
// the caller erases their pixels from label frames >= t.
// Deletion is always forward-only, regardless of edit propagation.
func (s *Session) DeleteCell(id, t int) (Result, error) {
	rec, ok := s.tl.Record(t, id)
	if !ok {
		return Result{}, errs.Newf(errs.KindNotFound, t, id, "cell has no lineage record")
	}
	removed := []int{id}
	if rec.Stage == StageS && rec.RelativeID > 0 {
		if _, ok := s.tl.Record(t, rec.RelativeID); ok {
			removed = append(removed, rec.RelativeID)
		}
	}
	sort.Ints(removed)

	d := newDraft(s.tl)
	warnings := make([]errs.Warning, 0)
	for k := t; k < d.len(); k++ {
		if !d.isSet(k) {
			continue
		}
		for _, r := range removed {
			d.remove(k, r)
		}
		warnings = append(warnings, releaseOrphans(d, k)...)
	}
	if err := s.commit(d); err != nil {
		return Result{}, err
	}
	for _, r := range removed {
		delete(s.manualMothers, r)
		delete(s.displaced, r)
	}
	return Result{Frame: t, Table: s.tl[t].Clone(), Changed: d.changed(), Removed: removed, Warnings: warnings}, nil
}
