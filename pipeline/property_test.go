package pipeline

import (
	"bytes"
	"context"
	"math/rand"
	"testing"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels/labeltest"
	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/segment"
)

const propertySeeds = 100

// randomRun analyses a random label video with the identity segmenter
func randomRun(t *testing.T, seed int64) (*Controller, *rand.Rand) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	opts := labeltest.DefaultVideoOptions()
	opts.Frames = 3 + rng.Intn(8)
	opts.Shuffle = seed%2 == 0
	frames := labeltest.RandomVideo(rng, opts)
	images := make([]segment.Image, len(frames))
	for k, lab := range frames {
		images[k] = segment.FromLabels(lab)
	}
	c := New(segment.Identity{}, DefaultOptions())
	summary, err := c.Run(context.Background(), NewSliceSource(0, images...), nil)
	if err != nil {
		t.Fatalf("Seed %d: unexpected error: %v", seed, err)
	}
	if summary.Analysed != len(frames) {
		t.Fatalf("Seed %d: expected %d frames analysed, got %+v", seed, len(frames), summary)
	}
	return c, rng
}

// randomCell picks a frame and one of its cells. Reports false when the frame is empty
func randomCell(rng *rand.Rand, c *Controller) (int, int, bool) {
	k := rng.Intn(c.Len())
	lab, _ := c.Frame(k)
	ids := lab.IDs()
	if len(ids) == 0 {
		return 0, k, false
	}
	return ids[rng.Intn(len(ids))], k, true
}

func TestRunKeepsLineageInvariants(t *testing.T) {
	for seed := int64(1); seed <= propertySeeds; seed++ {
		c, _ := randomRun(t, seed)
		tl := c.Timeline()
		if err := lineage.Check(tl); err != nil {
			t.Errorf("Seed %d: %v", seed, err)
		}
		checkConsistency(t, c)

		var buf bytes.Buffer
		if err := lineage.WriteCSV(&buf, tl); err != nil {
			t.Fatalf("Seed %d: unexpected error: %v", seed, err)
		}
		loaded, err := lineage.ReadCSV(&buf)
		if err != nil {
			t.Fatalf("Seed %d: unexpected error: %v", seed, err)
		}
		if !loaded.Equal(tl) {
			t.Errorf("Seed %d: CSV round trip changed the timeline", seed)
		}
	}
}

func TestToggleDivisionTwiceRestoresTimeline(t *testing.T) {
	toggled := 0
	for seed := int64(1); seed <= propertySeeds; seed++ {
		c, rng := randomRun(t, seed)
		for try := 0; try < 5; try++ {
			id, k, ok := randomCell(rng, c)
			if !ok {
				continue
			}
			before := c.Timeline()
			if _, err := c.ToggleDivision(context.Background(), id, k); err != nil {
				if !errs.Is(err, errs.KindRejected) {
					t.Errorf("Seed %d: toggle of cell %d at frame %d: unexpected error %v", seed, id, k, err)
				}
				if !c.Timeline().Equal(before) {
					t.Errorf("Seed %d: failed toggle of cell %d at frame %d changed the timeline", seed, id, k)
				}
				continue
			}
			if _, err := c.ToggleDivision(context.Background(), id, k); err != nil {
				t.Fatalf("Seed %d: second toggle of cell %d at frame %d: %v", seed, id, k, err)
			}
			if !c.Timeline().Equal(before) {
				t.Errorf("Seed %d: toggling cell %d at frame %d twice changed the timeline", seed, id, k)
			}
			toggled++
		}
	}
	if toggled == 0 {
		t.Error("No division was toggled, generated videos have no S pairs")
	}
}

func TestReassignBudPointsToNewMother(t *testing.T) {
	reassigned := 0
	for seed := int64(1); seed <= propertySeeds; seed++ {
		c, rng := randomRun(t, seed)
		tl := c.Timeline()
		k := rng.Intn(len(tl))
		budID, newMother := 0, 0
		for _, id := range tl[k].IDs() {
			rec := tl[k][id]
			if rec.Relationship != lineage.RelationshipBud || rec.Stage != lineage.StageS || rec.EmergenceFrame < 1 {
				continue
			}
			for _, m := range tl[k].IDs() {
				if m == rec.RelativeID || tl[k][m].Stage != lineage.StageG1 || !presentBetween(tl, m, rec.EmergenceFrame, k) {
					continue
				}
				budID, newMother = id, m
				break
			}
			if budID != 0 {
				break
			}
		}
		if budID == 0 {
			continue
		}
		emergence := tl[k][budID].EmergenceFrame
		if _, err := c.ReassignBud(context.Background(), budID, newMother, k); err != nil {
			t.Fatalf("Seed %d: reassign of bud %d to %d at frame %d: %v", seed, budID, newMother, k, err)
		}
		after := c.Timeline()
		for f := emergence; f <= k; f++ {
			if rel := after[f][budID].RelativeID; rel != newMother {
				t.Errorf("Seed %d, frame %d: bud %d must point to %d, got %d", seed, f, budID, newMother, rel)
			}
		}
		if err := lineage.Check(after); err != nil {
			t.Errorf("Seed %d: %v", seed, err)
		}
		reassigned++
	}
	if reassigned == 0 {
		t.Error("No bud was reassigned, generated videos have no buds")
	}
}

// presentBetween reports whether cell has a record in every frame of [from, to]
func presentBetween(tl lineage.Timeline, id, from, to int) bool {
	for f := from; f <= to; f++ {
		if _, ok := tl.Record(f, id); !ok {
			return false
		}
	}
	return true
}

func TestDeleteCellRemovesCellForward(t *testing.T) {
	for seed := int64(1); seed <= propertySeeds; seed++ {
		c, rng := randomRun(t, seed)
		id, k, ok := randomCell(rng, c)
		if !ok {
			continue
		}
		res, err := c.DeleteCell(context.Background(), id, k)
		if err != nil {
			t.Fatalf("Seed %d: delete of cell %d at frame %d: %v", seed, id, k, err)
		}
		for f := k; f < c.Len(); f++ {
			lab := mustFrame(t, c, f)
			tbl, err := c.Table(f)
			if err != nil {
				t.Fatalf("Seed %d: table %d: %v", seed, f, err)
			}
			for _, removed := range res.Removed {
				if lab.Contains(removed) {
					t.Errorf("Seed %d, frame %d: pixels of removed cell %d remain", seed, f, removed)
				}
				if _, ok := tbl[removed]; ok {
					t.Errorf("Seed %d, frame %d: lineage still holds removed cell %d", seed, f, removed)
				}
			}
		}
		if err := lineage.Check(c.Timeline()); err != nil {
			t.Errorf("Seed %d: %v", seed, err)
		}
		checkConsistency(t, c)
	}
}
