package lineage

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

func fill(img labels.Image, y0, y1, x0, x1, id int) labels.Image {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(y, x, id)
		}
	}
	return img
}

// scene returns tracked frame t: mothers 3 and 8 are always present, bud 41 emerges next to 3 at frame 10
func scene(t int) labels.Image {
	img := labels.New(20, 20)
	fill(img, 2, 7, 2, 7, 3)
	fill(img, 2, 7, 12, 17, 8)
	if t >= 10 {
		fill(img, 7, 9, 3, 6, 41)
	}
	return img
}

const sceneLen = 30

func runScene(t *testing.T, opts Options) *Session {
	t.Helper()
	session := NewSession(opts)
	if _, err := session.SeedDefault(scene(0).IDs(), false); err != nil {
		t.Fatalf("Can't seed: %v", err)
	}
	for k := 1; k < sceneLen; k++ {
		res, err := session.Advance(k, scene(k))
		if err != nil {
			t.Fatalf("Can't advance to frame %d: %v", k, err)
		}
		if len(res.Warnings) != 0 {
			t.Fatalf("Unexpected warnings at frame %d: %v", k, res.Warnings)
		}
	}
	return session
}

func record(t *testing.T, session *Session, frame, id int) Record {
	t.Helper()
	tbl, err := session.Rewind(frame)
	if err != nil {
		t.Fatalf("Can't rewind to %d: %v", frame, err)
	}
	rec, ok := tbl[id]
	if !ok {
		t.Fatalf("Cell %d is absent at frame %d", id, frame)
	}
	return rec
}

func TestAdvanceAssignsBud(t *testing.T) {
	session := runScene(t, DefaultOptions())
	if session.Len() != sceneLen {
		t.Fatalf("Expected %d frames, got %d", sceneLen, session.Len())
	}
	bud := record(t, session, 10, 41)
	expectedBud := Record{Stage: StageS, CyclesCount: 0, RelativeID: 3, Relationship: RelationshipBud, EmergenceFrame: 10, DivisionFrame: NoFrame}
	if bud != expectedBud {
		t.Errorf("Expected bud %+v, got %+v", expectedBud, bud)
	}
	mother := record(t, session, 10, 3)
	if mother.Stage != StageS || mother.RelativeID != 41 || mother.CyclesCount != 2 || mother.Relationship != RelationshipMother {
		t.Errorf("Wrong mother record: %+v", mother)
	}
	if other := record(t, session, 10, 8); other != DefaultSeed() {
		t.Errorf("Cell 8 must stay in G1, got %+v", other)
	}
	if err := Check(session.Timeline()); err != nil {
		t.Errorf("Timeline must satisfy invariants: %v", err)
	}
}

func TestToggleDivision(t *testing.T) {
	session := runScene(t, DefaultOptions())
	original := session.Timeline()

	res, err := session.ToggleDivision(41, 25)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Changed) != 5 || res.Changed[0] != 25 || res.Changed[4] != 29 {
		t.Errorf("Expected frames 25..29 changed, got %v", res.Changed)
	}
	for k := 10; k < 25; k++ {
		bud := record(t, session, k, 41)
		if bud.Stage != StageS || bud.Relationship != RelationshipBud || bud.RelativeID != 3 {
			t.Errorf("Frame %d: bud must stay S/bud/3, got %+v", k, bud)
		}
	}
	for k := 25; k < sceneLen; k++ {
		bud := record(t, session, k, 41)
		mother := record(t, session, k, 3)
		if bud.Stage != StageG1 || bud.Relationship != RelationshipMother || bud.CyclesCount != 1 || bud.DivisionFrame != 25 {
			t.Errorf("Frame %d: wrong divided bud %+v", k, bud)
		}
		if mother.Stage != StageG1 || mother.Relationship != RelationshipMother || mother.CyclesCount != 3 || mother.DivisionFrame != 25 {
			t.Errorf("Frame %d: wrong divided mother %+v", k, mother)
		}
	}

	// Toggle is an involution
	if _, err := session.ToggleDivision(41, 25); err != nil {
		t.Fatalf("Unexpected error on undo: %v", err)
	}
	if !session.Timeline().Equal(original) {
		t.Error("Toggling twice must restore the original timeline")
	}
}

func TestToggleDivisionWithoutPropagation(t *testing.T) {
	opts := DefaultOptions()
	opts.PropagateEdits = false
	session := runScene(t, opts)
	res, err := session.ToggleDivision(3, 25)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != 25 {
		t.Errorf("Expected only frame 25 changed, got %v", res.Changed)
	}
	if rec := record(t, session, 26, 41); rec.Stage != StageS {
		t.Errorf("Frame 26 must be untouched, got %+v", rec)
	}
}

func TestToggleDivisionRejected(t *testing.T) {
	session := runScene(t, DefaultOptions())
	_, err := session.ToggleDivision(8, 12)
	if !errors.Is(err, ErrNotDivisionTarget) {
		t.Errorf("Expected not a division target, got %v", err)
	}
	if !errs.Is(err, errs.KindRejected) {
		t.Errorf("Expected rejected kind, got %v", err)
	}
	if _, err := session.ToggleDivision(77, 12); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestReassignBud(t *testing.T) {
	session := runScene(t, DefaultOptions())
	before := record(t, session, 9, 3)

	res, err := session.ReassignBud(41, 8, 15)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("Unexpected warnings: %v", res.Warnings)
	}
	for k := 10; k < sceneLen; k++ {
		if bud := record(t, session, k, 41); bud.RelativeID != 8 {
			t.Errorf("Frame %d: bud must point to 8, got %d", k, bud.RelativeID)
		}
		if mother := record(t, session, k, 8); mother.Stage != StageS || mother.RelativeID != 41 || mother.Relationship != RelationshipMother {
			t.Errorf("Frame %d: wrong new mother %+v", k, mother)
		}
		if wrong := record(t, session, k, 3); wrong != before {
			t.Errorf("Frame %d: wrong mother must revert to %+v, got %+v", k, before, wrong)
		}
	}
	if manual := session.ManualMothers(); len(manual) != 1 || manual[0] != 8 {
		t.Errorf("Expected manual mothers [8], got %v", manual)
	}

	// Revisiting the emergence frame keeps the manual assignment
	res, err = session.Advance(10, scene(10))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Table[41].RelativeID != 8 || len(res.Changed) != 0 {
		t.Errorf("Revisit must keep manual mother, got %+v (changed %v)", res.Table[41], res.Changed)
	}
}

// sceneWithSecondBud adds bud 60 emerging below cell 8 at frame 12
func sceneWithSecondBud(t int) labels.Image {
	img := scene(t)
	if t >= 12 {
		fill(img, 7, 9, 13, 16, 60)
	}
	return img
}

func TestDisplacedBudIsAssignedOnRevisit(t *testing.T) {
	session := NewSession(DefaultOptions())
	if _, err := session.SeedDefault(scene(0).IDs(), false); err != nil {
		t.Fatalf("Can't seed: %v", err)
	}
	for k := 1; k < 16; k++ {
		if _, err := session.Advance(k, sceneWithSecondBud(k)); err != nil {
			t.Fatalf("Can't advance to frame %d: %v", k, err)
		}
	}
	if bud := record(t, session, 12, 60); bud.RelativeID != 8 {
		t.Fatalf("Bud 60 must start paired with 8, got %+v", bud)
	}

	res, err := session.ReassignBud(41, 8, 15)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Error("Displacing bud 60 must be reported")
	}
	for k := 12; k < 16; k++ {
		if bud := record(t, session, k, 60); bud.RelativeID != Unresolved {
			t.Errorf("Frame %d: displaced bud must be unresolved, got %+v", k, bud)
		}
	}

	res, err = session.Advance(12, sceneWithSecondBud(12))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Table[60].RelativeID != 3 {
		t.Errorf("Displaced bud must be paired with the free cell 3, got %+v", res.Table[60])
	}
	for k := 12; k < 16; k++ {
		bud := record(t, session, k, 60)
		mother := record(t, session, k, 3)
		if bud.RelativeID != 3 || mother.Stage != StageS || mother.RelativeID != 60 || mother.Relationship != RelationshipMother {
			t.Errorf("Frame %d: expected pair 3/60, got mother %+v bud %+v", k, mother, bud)
		}
		if manual := record(t, session, k, 8); manual.RelativeID != 41 {
			t.Errorf("Frame %d: manual pairing 8/41 must stay, got %+v", k, manual)
		}
	}
	if err := Check(session.Timeline()); err != nil {
		t.Errorf("Timeline must satisfy invariants: %v", err)
	}

	// A second revisit leaves the frame alone
	res, err = session.Advance(12, sceneWithSecondBud(12))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Changed) != 0 {
		t.Errorf("Expected no changes, got %v", res.Changed)
	}
}

func TestReassignBudRollback(t *testing.T) {
	session := runScene(t, DefaultOptions())
	if _, err := session.ToggleDivision(41, 25); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	snapshot := session.Timeline()
	// Division with mother 3 is annotated later: moving the bud breaks the division record
	_, err := session.ReassignBud(41, 8, 15)
	if !errs.Is(err, errs.KindInvariant) {
		t.Fatalf("Expected invariant violation, got %v", err)
	}
	if !session.Timeline().Equal(snapshot) {
		t.Error("Failed operation must not change the timeline")
	}
	if len(session.ManualMothers()) != 0 {
		t.Error("Failed operation must not record manual mother")
	}
}

func TestDeleteCell(t *testing.T) {
	session := runScene(t, DefaultOptions())
	res, err := session.DeleteCell(41, 12)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Removed) != 2 || res.Removed[0] != 3 || res.Removed[1] != 41 {
		t.Errorf("Expected pair [3 41] removed, got %v", res.Removed)
	}
	tl := session.Timeline()
	for k := 12; k < sceneLen; k++ {
		for _, id := range res.Removed {
			if _, ok := tl[k][id]; ok {
				t.Errorf("Frame %d still has cell %d", k, id)
			}
		}
		if _, ok := tl[k][8]; !ok {
			t.Errorf("Frame %d lost unrelated cell 8", k)
		}
	}
	if _, ok := tl[11][41]; !ok {
		t.Error("Frames before deletion must keep the cell")
	}
}

func TestDeleteReleasesPartner(t *testing.T) {
	session := runScene(t, DefaultOptions())
	// Cell 8 in G1 is removed alone
	res, err := session.DeleteCell(8, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Removed) != 1 {
		t.Errorf("Expected single removed cell, got %v", res.Removed)
	}

	// Mother of a vanished bud may return to G1 without division
	session = runScene(t, DefaultOptions())
	tl := session.Timeline()
	for k := 20; k < sceneLen; k++ {
		delete(tl[k], 41)
		rec := tl[k][3]
		rec.Stage = StageG1
		rec.RelativeID = NoRelative
		tl[k][3] = rec
	}
	if err := session.Load(tl); err != nil {
		t.Fatalf("Released mother must be valid: %v", err)
	}
}

func TestVanishedBudReleasesMother(t *testing.T) {
	session := NewSession(DefaultOptions())
	if _, err := session.SeedDefault(scene(0).IDs(), false); err != nil {
		t.Fatalf("Can't seed: %v", err)
	}
	for k := 1; k < 12; k++ {
		if _, err := session.Advance(k, scene(k)); err != nil {
			t.Fatalf("Can't advance to frame %d: %v", k, err)
		}
	}
	res, err := session.Advance(12, scene(0))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != errs.KindReleased || res.Warnings[0].CellID != 3 {
		t.Errorf("Expected release warning for mother 3, got %v", res.Warnings)
	}
	if mother := res.Table[3]; mother.Stage != StageG1 || mother.RelativeID != NoRelative {
		t.Errorf("Mother must return to G1, got %+v", mother)
	}
}

func TestBudAssignmentTieAndWarnings(t *testing.T) {
	frame0 := labels.New(3, 9)
	fill(frame0, 0, 3, 0, 3, 4)
	fill(frame0, 0, 3, 6, 9, 2)
	frame1 := frame0.Clone()
	fill(frame1, 0, 3, 4, 5, 9)

	session := NewSession(DefaultOptions())
	if _, err := session.SeedDefault(frame0.IDs(), false); err != nil {
		t.Fatalf("Can't seed: %v", err)
	}
	res, err := session.Advance(1, frame1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Table[9].RelativeID != 2 {
		t.Errorf("Equidistant mothers: smaller ID 2 must win, got %d", res.Table[9].RelativeID)
	}

	// Both mothers are busy now: next bud is unresolved
	frame2 := frame1.Clone()
	frame2.Set(2, 3, 11)
	res, err = session.Advance(2, frame2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// Cell 4 is the only G1 cell left
	if res.Table[11].RelativeID != 4 {
		t.Errorf("Expected bud 11 paired with 4, got %d", res.Table[11].RelativeID)
	}
	frame3 := frame2.Clone()
	frame3.Set(0, 5, 12)
	res, err = session.Advance(3, frame3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Table[12].RelativeID != Unresolved {
		t.Errorf("Expected unresolved bud, got %d", res.Table[12].RelativeID)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].CellID != 12 || res.Warnings[0].Kind != errs.KindAmbiguous {
		t.Errorf("Expected one ambiguous assignment warning for cell 12, got %v", res.Warnings)
	}
	if err := Check(session.Timeline()); err != nil {
		t.Errorf("Unresolved bud must not break invariants: %v", err)
	}
}

func TestMotherSearchAny(t *testing.T) {
	frame0 := labels.New(3, 12)
	fill(frame0, 0, 3, 0, 3, 4)
	fill(frame0, 0, 1, 3, 4, 5)
	fill(frame0, 0, 3, 9, 12, 7)
	seed := Table{
		4: {Stage: StageS, CyclesCount: 1, RelativeID: 5, Relationship: RelationshipMother, EmergenceFrame: NoFrame, DivisionFrame: NoFrame},
		5: {Stage: StageS, CyclesCount: 0, RelativeID: 4, Relationship: RelationshipBud, EmergenceFrame: NoFrame, DivisionFrame: NoFrame},
		7: DefaultSeed(),
	}
	frame1 := frame0.Clone()
	fill(frame1, 2, 3, 4, 5, 9)

	for _, tc := range []struct {
		search   MotherSearchSet
		expected int
	}{
		{MotherSearchG1, 7},
		{MotherSearchAny, Unresolved},
	} {
		session := NewSession(Options{MotherSearch: tc.search, PropagateEdits: true})
		if _, err := session.Seed(seed, false); err != nil {
			t.Fatalf("[%s] Can't seed: %v", tc.search, err)
		}
		res, err := session.Advance(1, frame1)
		if err != nil {
			t.Fatalf("[%s] Unexpected error: %v", tc.search, err)
		}
		if res.Table[9].RelativeID != tc.expected {
			t.Errorf("[%s] Expected relative %d, got %d", tc.search, tc.expected, res.Table[9].RelativeID)
		}
	}
}

func TestSeedResetRequired(t *testing.T) {
	session := runScene(t, DefaultOptions())
	_, err := session.SeedDefault([]int{3, 8}, false)
	if !errors.Is(err, ErrResetRequired) {
		t.Fatalf("Expected reset required, got %v", err)
	}
	if session.Len() != sceneLen {
		t.Error("Rejected reseed must keep frames")
	}
	if _, err := session.SeedDefault([]int{3, 8}, true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if session.Len() != 1 {
		t.Errorf("Confirmed reseed must drop later frames, got %d", session.Len())
	}
}

func TestAdvanceErrors(t *testing.T) {
	session := NewSession(DefaultOptions())
	if _, err := session.Advance(1, scene(1)); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Expected not found before seeding, got %v", err)
	}
	if _, err := session.SeedDefault([]int{3, 8}, false); err != nil {
		t.Fatalf("Can't seed: %v", err)
	}
	if _, err := session.Advance(3, scene(3)); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("Expected not found when skipping frames, got %v", err)
	}
	broken := labels.Image{Height: 2, Width: 2, Pix: []int32{0, -1, 0, 0}}
	if _, err := session.Advance(1, broken); !errs.Is(err, errs.KindInput) {
		t.Errorf("Expected input error, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	lonely := Timeline{
		{1: {Stage: StageS, RelativeID: 2, Relationship: RelationshipMother, EmergenceFrame: NoFrame, DivisionFrame: NoFrame}},
	}
	if err := Check(lonely); !errs.Is(err, errs.KindInvariant) {
		t.Errorf("Expected violation for absent partner, got %v", err)
	}
	oldBud := Timeline{
		{1: {Stage: StageG1, CyclesCount: 1, Relationship: RelationshipBud, EmergenceFrame: NoFrame, DivisionFrame: NoFrame}},
	}
	if err := Check(oldBud); !errs.Is(err, errs.KindInvariant) {
		t.Errorf("Expected violation for bud with cycles, got %v", err)
	}
	early := Timeline{
		{1: {Stage: StageG1, CyclesCount: 1, EmergenceFrame: 5, DivisionFrame: 3}},
	}
	if err := Check(early); !errs.Is(err, errs.KindInvariant) {
		t.Errorf("Expected violation for division before emergence, got %v", err)
	}
	back := Timeline{
		{1: DefaultSeed()},
		{},
		{1: DefaultSeed()},
	}
	if err := Check(back); !errs.Is(err, errs.KindInvariant) {
		t.Errorf("Expected violation for reappearing cell, got %v", err)
	}
	half := Timeline{
		{
			1: {Stage: StageS, CyclesCount: 2, RelativeID: 2, Relationship: RelationshipMother, EmergenceFrame: NoFrame, DivisionFrame: NoFrame},
			2: {Stage: StageS, CyclesCount: 0, RelativeID: 1, Relationship: RelationshipBud, EmergenceFrame: 0, DivisionFrame: NoFrame},
		},
		{
			1: {Stage: StageG1, CyclesCount: 3, RelativeID: 2, Relationship: RelationshipMother, EmergenceFrame: NoFrame, DivisionFrame: 1},
			2: {Stage: StageS, CyclesCount: 0, RelativeID: Unresolved, Relationship: RelationshipBud, EmergenceFrame: 0, DivisionFrame: NoFrame},
		},
	}
	if err := Check(half); !errs.Is(err, errs.KindInvariant) {
		t.Errorf("Expected violation for one-sided division, got %v", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	session := runScene(t, DefaultOptions())
	if _, err := session.ToggleDivision(41, 25); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	tl := session.Timeline()
	tl = append(tl, Table{})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tl); err != nil {
		t.Fatalf("Can't write: %v", err)
	}
	loaded, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("Can't read: %v", err)
	}
	if !loaded.Equal(tl) {
		t.Error("Save-then-load must be the identity")
	}

	buf.Reset()
	if err := WriteFrameCSV(&buf, 12, tl[12]); err != nil {
		t.Fatalf("Can't write frame: %v", err)
	}
	single, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("Can't read frame: %v", err)
	}
	if len(single) != 13 || single.IsSet(11) || !single[12].Equal(tl[12]) {
		t.Errorf("Wrong single frame round trip: %v", single)
	}

	_, err = ReadCSV(bytes.NewBufferString("frame_index,cell\n"))
	if err == nil {
		t.Error("Expected error for malformed header")
	}
}
