package lineage

import (
	"github.com/LdDl/budtrack/errs"
)

// ToggleDivision annotates division of the S pair containing cell id at frame t, or undoes
// the division when the cell is in G1 right after dividing from its partner.
//
// Annotation turns both cells into G1 mothers with cycles count incremented by 1 and propagates
// forward while the pair is still in S. Walking backward over S frames of the pair, if the pair is
// found already divided, that earlier division frame is adopted.
// Undo restores both cells to S from the division frame on while records show that division.
func (s *Session) ToggleDivision(id, t int) (Result, error) {
	rec, ok := s.tl.Record(t, id)
	if !ok {
		return Result{}, errs.Newf(errs.KindNotFound, t, id, "cell has no lineage record")
	}
	rel := rec.RelativeID
	relRec, relOk := s.tl.Record(t, rel)
	d := newDraft(s.tl)
	var warnings []errs.Warning
	switch {
	case rel > 0 && relOk && rec.pairedWith(rel) && relRec.pairedWith(id):
		warnings = s.annotateDivision(d, id, rel, t)
	case rel > 0 && relOk && rec.Stage == StageG1 && rec.DivisionFrame != NoFrame && rec.DivisionFrame <= t &&
		relRec.dividedWith(id, rec.DivisionFrame):
		warnings = s.undoDivision(d, id, rel, t, rec.DivisionFrame)
	default:
		return Result{}, errs.Wrap(ErrNotDivisionTarget, errs.KindRejected, t, id, "toggle division")
	}
	if err := s.commit(d); err != nil {
		return Result{}, err
	}
	return Result{Frame: t, Table: s.tl[t].Clone(), Changed: d.changed(), Warnings: warnings}, nil
}

// divided returns record right after division at frame div
func divided(rec Record, div int) Record {
	rec.Stage = StageG1
	rec.Relationship = RelationshipMother
	rec.CyclesCount++
	rec.DivisionFrame = div
	return rec
}

// adopt returns template record with per frame fields of rec kept
func adopt(template, rec Record) Record {
	template.EmergenceFrame = rec.EmergenceFrame
	template.Discard = rec.Discard
	return template
}

func (s *Session) annotateDivision(d *draft, id, rel, t int) []errs.Warning {
	div := t
	var templates map[int]Record
	start := t
	if s.opts.PropagateEdits {
		// Walk back over S frames of the pair
		k := t - 1
		for ; k >= 0; k-- {
			a, okA := d.record(k, id)
			b, okB := d.record(k, rel)
			if !okA || !okB || !a.pairedWith(rel) || !b.pairedWith(id) {
				break
			}
		}
		if k >= 0 {
			a, okA := d.record(k, id)
			b, okB := d.record(k, rel)
			if okA && okB && a.DivisionFrame != NoFrame && a.dividedWith(rel, a.DivisionFrame) && b.dividedWith(id, a.DivisionFrame) {
				// The pair is already divided before: move this annotation there
				div = a.DivisionFrame
				templates = map[int]Record{id: a, rel: b}
				start = k + 1
			}
		}
	}

	apply := func(frame, cell int, current Record) {
		if templates != nil {
			d.put(frame, cell, adopt(templates[cell], current))
			return
		}
		d.put(frame, cell, divided(current, div))
	}
	for k := start; k <= t; k++ {
		a, _ := d.record(k, id)
		b, _ := d.record(k, rel)
		apply(k, id, a)
		apply(k, rel, b)
	}
	if !s.opts.PropagateEdits {
		return []errs.Warning{}
	}
	for k := t + 1; k < d.len(); k++ {
		a, okA := d.record(k, id)
		b, okB := d.record(k, rel)
		if !okA || !okB || !a.pairedWith(rel) || !b.pairedWith(id) {
			break
		}
		apply(k, id, a)
		apply(k, rel, b)
	}
	return []errs.Warning{}
}

// restored returns S record of a cell before division, taking the record at frame div-1 as reference.
// A cell in G1 at div-1 paired up at div, so its counters are the same as then
func restored(d *draft, cell, partner, div int, current Record) Record {
	out := current
	out.Stage = StageS
	out.RelativeID = partner
	if before, ok := d.record(div-1, cell); ok && (before.pairedWith(partner) || before.Stage == StageG1) {
		out.CyclesCount = before.CyclesCount
		out.Relationship = before.Relationship
		out.DivisionFrame = before.DivisionFrame
		return out
	}
	out.CyclesCount = current.CyclesCount - 1
	if out.CyclesCount <= 0 {
		out.CyclesCount = 0
		out.Relationship = RelationshipBud
	}
	out.DivisionFrame = NoFrame
	return out
}

func (s *Session) undoDivision(d *draft, id, rel, t, div int) []errs.Warning {
	warnings := make([]errs.Warning, 0)
	start, end := t, t
	if s.opts.PropagateEdits {
		start = div
		end = d.len() - 1
	}
	undo := func(k int) bool {
		a, okA := d.record(k, id)
		b, okB := d.record(k, rel)
		if !okA || !okB || !a.dividedWith(rel, div) || !b.dividedWith(id, div) {
			return false
		}
		ra := restored(d, id, rel, div, a)
		rb := restored(d, rel, id, div, b)
		// An S pair needs one mother
		if ra.Relationship == RelationshipBud && rb.Relationship == RelationshipBud {
			rb.Relationship = RelationshipMother
		}
		d.put(k, id, ra)
		d.put(k, rel, rb)
		return true
	}
	for k := start; k <= end; k++ {
		if !undo(k) {
			if k <= t {
				warnings = append(warnings, errs.Warning{Kind: errs.KindRejected, Frame: k, CellID: id, Reason: "division record differs, frame left unchanged"})
				continue
			}
			break
		}
	}
	return warnings
}
