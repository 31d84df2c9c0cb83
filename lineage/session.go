package lineage

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

var (
	// ErrNotDivisionTarget is returned (wrapped) when toggle division is asked for a cell which is neither
	// in an S pair nor in G1 right after a division with its partner
	ErrNotDivisionTarget = errors.New("not a valid division target")
	// ErrResetRequired is returned when frame 0 is reseeded while later frames are analysed and reset is not confirmed
	ErrResetRequired = errors.New("frames after the first one are analysed: confirm reset")
)

// Options tunes lineage session
type Options struct {
	// MotherSearch restricts bud assignment candidates
	MotherSearch MotherSearchSet
	// PropagateEdits enables forward and backward propagation of edits. When off, edits touch frame t only
	PropagateEdits bool
}

// DefaultOptions returns G1-only mother search with propagation on
func DefaultOptions() Options {
	return Options{
		MotherSearch:   MotherSearchG1,
		PropagateEdits: true,
	}
}

// Result is outcome of a lineage operation
type Result struct {
	// Frame is the frame the operation was asked for
	Frame int
	// Table is lineage table of Frame after the operation
	Table Table
	// Changed lists frames whose tables were modified, ascending
	Changed []int
	// Removed lists deleted CellIDs (delete only)
	Removed []int
	// Warnings holds recoverable conditions met during the operation
	Warnings []errs.Warning
}

// Session is the sole owner and mutator of lineage tables of one position.
// It also owns the set of mothers assigned manually during the session.
// Session is not safe for concurrent use.
type Session struct {
	id            uuid.UUID
	opts          Options
	tl            Timeline
	manualMothers map[int]struct{}
	// displaced maps a bud which lost its mother to a manual reassignment onto that mother
	displaced map[int]int
}

// NewSession creates empty session
func NewSession(opts Options) *Session {
	return &Session{
		id:            uuid.New(),
		opts:          opts,
		tl:            make(Timeline, 0),
		manualMothers: make(map[int]struct{}),
		displaced:     make(map[int]int),
	}
}

// GetID returns session identifier
func (s *Session) GetID() uuid.UUID {
	return s.id
}

// Options returns session options
func (s *Session) Options() Options {
	return s.opts
}

// SetOptions replaces session options
func (s *Session) SetOptions(opts Options) {
	s.opts = opts
}

// Len returns number of frames with lineage tables
func (s *Session) Len() int {
	return len(s.tl)
}

// Timeline returns deep copy of lineage tables
func (s *Session) Timeline() Timeline {
	return s.tl.Clone()
}

// ManualMothers returns sorted IDs of mothers assigned by the user
func (s *Session) ManualMothers() []int {
	ids := make([]int, 0, len(s.manualMothers))
	for id := range s.manualMothers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Rewind returns lineage table of frame t without recomputation
func (s *Session) Rewind(t int) (Table, error) {
	if !s.tl.IsSet(t) {
		return nil, errs.Newf(errs.KindNotFound, t, errs.NoCell, "lineage table is not set (%d frames analysed)", len(s.tl))
	}
	return s.tl[t].Clone(), nil
}

// Load replaces whole timeline, e.g. with tables read from storage. Timeline is checked first
func (s *Session) Load(tl Timeline) error {
	if err := Check(tl); err != nil {
		return err
	}
	s.tl = tl.Clone()
	return nil
}

// Truncate drops tables of frames >= n
func (s *Session) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(s.tl) {
		s.tl = s.tl[:n]
	}
}

// SeedDefault creates lineage table of the first frame from its CellIDs.
// Every cell starts in G1 with unknown history
func (s *Session) SeedDefault(ids []int, confirm bool) (Result, error) {
	tbl := make(Table, len(ids))
	for _, id := range ids {
		tbl[id] = DefaultSeed()
	}
	return s.Seed(tbl, confirm)
}

// Seed sets lineage table of the first frame, e.g. a user supplied one for analyses starting mid-cycle.
// When later frames are analysed the reset of frames 1..T-1 must be confirmed
func (s *Session) Seed(tbl Table, confirm bool) (Result, error) {
	if tbl == nil {
		tbl = make(Table)
	}
	d := newDraft(s.tl)
	if d.len() > 1 {
		if !confirm {
			return Result{}, errs.Wrap(ErrResetRequired, errs.KindRejected, 0, errs.NoCell, "first frame reseed")
		}
		d.truncate(1)
	}
	d.replace(0, tbl.Clone())
	if err := s.commit(d); err != nil {
		return Result{}, err
	}
	// Manual pairing history belongs to the dropped frames
	s.manualMothers = make(map[int]struct{})
	s.displaced = make(map[int]int)
	return Result{Frame: 0, Table: s.tl[0].Clone(), Changed: []int{0}, Warnings: []errs.Warning{}}, nil
}

// Advance builds lineage table of frame t from the table of frame t-1 and the tracked label frame t.
// Cells missing in the label frame are dropped, new cells are assigned as buds.
// When frame t is analysed already the stored table is loaded instead and only buds whose mother
// was manually given another bud are assigned again
func (s *Session) Advance(t int, lab labels.Image) (Result, error) {
	if t < 1 || t > len(s.tl) {
		return Result{}, errs.Newf(errs.KindNotFound, t, errs.NoCell, "can't advance to frame %d with %d frames analysed", t, len(s.tl))
	}
	if !s.tl.IsSet(t - 1) {
		return Result{}, errs.Newf(errs.KindNotFound, t-1, errs.NoCell, "previous lineage table is not set")
	}
	if err := lab.Validate(); err != nil {
		return Result{}, errs.Wrap(err, errs.KindInput, t, errs.NoCell, "malformed label frame")
	}
	d := newDraft(s.tl)
	var (
		warnings []errs.Warning
		resolved []int
	)
	if s.tl.IsSet(t) {
		warnings, resolved = s.revisit(d, t, lab)
	} else {
		warnings = s.seedFrame(d, t, lab)
	}
	if err := s.commit(d); err != nil {
		return Result{}, err
	}
	for _, id := range resolved {
		delete(s.displaced, id)
	}
	return Result{Frame: t, Table: s.tl[t].Clone(), Changed: d.changed(), Warnings: warnings}, nil
}

// seedFrame copies table of frame t-1 restricted to cells of the label frame and assigns new cells
func (s *Session) seedFrame(d *draft, t int, lab labels.Image) []errs.Warning {
	prev := d.table(t - 1)
	present := lab.IDSet()
	tbl := make(Table, len(present))
	newIDs := make([]int, 0)
	for id := range present {
		if rec, ok := prev[id]; ok {
			tbl[id] = rec
		} else {
			newIDs = append(newIDs, id)
		}
	}
	d.replace(t, tbl)
	warnings := releaseOrphans(d, t)
	warnings = append(warnings, assignBuds(d, t, newIDs, lab, s.opts.MotherSearch)...)
	return warnings
}

// revisit syncs stored table of frame t with the label frame and reassigns buds
// whose mother was manually paired with another bud. Displaced buds which got a mother again are returned
func (s *Session) revisit(d *draft, t int, lab labels.Image) ([]errs.Warning, []int) {
	present := lab.IDSet()
	stored := d.table(t)
	for _, id := range stored.IDs() {
		if _, ok := present[id]; !ok {
			d.remove(t, id)
		}
	}
	warnings := releaseOrphans(d, t)
	tbl := d.table(t)
	buds := make([]int, 0)
	for id := range present {
		if _, ok := tbl[id]; !ok {
			buds = append(buds, id)
		}
	}
	displaced := make([]int, 0)
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		if rec.Relationship != RelationshipBud || rec.Stage != StageS || rec.EmergenceFrame != t {
			continue
		}
		mother := rec.RelativeID
		if rec.RelativeID == Unresolved {
			lost, ok := s.displaced[id]
			if !ok {
				continue
			}
			mother = lost
			displaced = append(displaced, id)
		}
		if _, manual := s.manualMothers[mother]; !manual {
			continue
		}
		if motherRec, ok := tbl[mother]; ok && motherRec.RelativeID == id {
			continue
		}
		buds = append(buds, id)
	}
	warnings = append(warnings, assignBuds(d, t, buds, lab, s.opts.MotherSearch)...)
	resolved := make([]int, 0, len(displaced))
	for _, id := range displaced {
		if carryPairing(d, t, id) {
			resolved = append(resolved, id)
		}
	}
	return warnings, resolved
}

// carryPairing copies the pairing a bud got at frame t into later frames where it is still unresolved
// and its mother is free. Reports whether the bud has a mother at t
func carryPairing(d *draft, t, bud int) bool {
	rec, ok := d.record(t, bud)
	if !ok || rec.RelativeID <= 0 {
		return false
	}
	mother := rec.RelativeID
	for k := t + 1; k < d.len() && d.isSet(k); k++ {
		b, ok := d.record(k, bud)
		if !ok || b.Relationship != RelationshipBud || b.Stage != StageS || b.RelativeID != Unresolved {
			break
		}
		m, ok := d.record(k, mother)
		if !ok || m.Stage != StageG1 {
			break
		}
		m.Stage = StageS
		m.RelativeID = bud
		m.Relationship = RelationshipMother
		d.put(k, mother, m)
		b.RelativeID = mother
		d.put(k, bud, b)
	}
	return true
}

// releaseOrphans fixes S records of frame t whose partner is absent:
// a bud becomes unresolved, a mother returns to G1
func releaseOrphans(d *draft, t int) []errs.Warning {
	warnings := make([]errs.Warning, 0)
	tbl := d.table(t)
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		if rec.Stage != StageS || rec.RelativeID <= 0 {
			continue
		}
		if _, ok := tbl[rec.RelativeID]; ok {
			continue
		}
		if rec.Relationship == RelationshipBud {
			rec.RelativeID = Unresolved
			warnings = append(warnings, errs.Warning{Kind: errs.KindReleased, Frame: t, CellID: id, Reason: "mother vanished, bud is unresolved"})
		} else {
			rec.Stage = StageG1
			rec.RelativeID = NoRelative
			warnings = append(warnings, errs.Warning{Kind: errs.KindReleased, Frame: t, CellID: id, Reason: "bud vanished, mother returns to G1"})
		}
		d.put(t, id, rec)
	}
	return warnings
}

// commit checks changed frames of the draft and replaces the timeline. On violation nothing changes
func (s *Session) commit(d *draft) error {
	tl := d.timeline()
	if err := checkFrames(tl, d.changed()); err != nil {
		return err
	}
	s.tl = tl
	return nil
}

// Relabel renumbers CellIDs in every table using old -> new map, e.g. after sequential relabelling of the video
func (s *Session) Relabel(mapping map[int]int) error {
	remap := func(id int) int {
		if id <= 0 {
			return id
		}
		if newID, ok := mapping[id]; ok {
			return newID
		}
		return id
	}
	tl := make(Timeline, len(s.tl))
	for t, tbl := range s.tl {
		if tbl == nil {
			continue
		}
		out := make(Table, len(tbl))
		for id, rec := range tbl {
			rec.RelativeID = remap(rec.RelativeID)
			out[remap(id)] = rec
		}
		if len(out) != len(tbl) {
			return errs.Newf(errs.KindInput, t, errs.NoCell, "relabel map merges cells")
		}
		tl[t] = out
	}
	if err := Check(tl); err != nil {
		return err
	}
	s.tl = tl
	manual := make(map[int]struct{}, len(s.manualMothers))
	for id := range s.manualMothers {
		manual[remap(id)] = struct{}{}
	}
	s.manualMothers = manual
	displaced := make(map[int]int, len(s.displaced))
	for bud, mother := range s.displaced {
		displaced[remap(bud)] = remap(mother)
	}
	s.displaced = displaced
	return nil
}
