package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LdDl/budtrack/internal/blob"
	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/lineage"
)

func sampleTimeline() ([]labels.Image, lineage.Timeline) {
	frames := []labels.Image{
		labels.MustFromRows([][]int32{
			{0, 3, 3, 0},
			{0, 3, 3, 0},
			{0, 0, 0, 0},
		}),
		labels.MustFromRows([][]int32{
			{0, 3, 3, 0},
			{0, 3, 3, 70000},
			{0, 0, 0, 0},
		}),
	}
	bud := lineage.NewBud(1)
	bud.RelativeID = 3
	mother := lineage.DefaultSeed()
	mother.Stage = lineage.StageS
	mother.RelativeID = 70000
	tl := lineage.Timeline{
		{3: lineage.DefaultSeed()},
		{3: mother, 70000: bud},
	}
	return frames, tl
}

func TestLabelCodec(t *testing.T) {
	frames, _ := sampleTimeline()
	var buf bytes.Buffer
	if err := EncodeLabels(&buf, frames[1]); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	got, err := DecodeLabels(&buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !got.Equal(frames[1]) {
		t.Errorf("Decoded frame differs: %v", got.Rows())
	}
	if _, err := DecodeLabels(strings.NewReader("garbage")); err == nil {
		t.Error("Expected error for garbage input")
	}
}

func TestPosition(t *testing.T) {
	ctx := context.Background()
	if _, err := NewPosition(blob.NewMemory(), "../pos"); err == nil {
		t.Error("Expected error for bad position name")
	}
	mem := blob.NewMemory()
	pos, err := NewPosition(mem, "pos1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	frames, tl := sampleTimeline()
	for i := range frames {
		if err := pos.SaveFrame(ctx, i, frames[i], tl[i]); err != nil {
			t.Fatalf("SaveFrame %d: %v", i, err)
		}
	}
	if pos.LabelKey(1) != "pos1/labels/000001.lab" || pos.LineageKey(1) != "pos1/lineage/000001.csv" {
		t.Errorf("Unexpected keys %s %s", pos.LabelKey(1), pos.LineageKey(1))
	}
	gotFrames, gotTL, err := pos.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(gotFrames) != 2 || !gotFrames[0].Equal(frames[0]) || !gotFrames[1].Equal(frames[1]) {
		t.Errorf("Loaded frames differ")
	}
	if !gotTL.Equal(tl) {
		t.Errorf("Loaded timeline differs: %v", gotTL)
	}

	// truncating timeline drops stale tables; Load stops at the first frame without table
	if err := pos.SaveLineage(ctx, tl[:1]); err != nil {
		t.Fatalf("SaveLineage: %v", err)
	}
	gotFrames, gotTL, err = pos.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(gotFrames) != 1 || len(gotTL) != 1 {
		t.Errorf("Expected single frame, got %d frames and %d tables", len(gotFrames), len(gotTL))
	}
	export, err := blob.ReadAll(ctx, mem, pos.ExportKey())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(string(export), strings.Join(lineage.CSVHeader, ",")) {
		t.Errorf("Export must start with header, got %q", export)
	}
	var out bytes.Buffer
	if err := pos.ExportCSV(ctx, &out); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if out.String() != string(export) {
		t.Errorf("ExportCSV differs from stored export:\n%s\n%s", out.String(), export)
	}
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "lineage.db")
	if _, err := OpenSQL(ctx, "oracle", dsn, "pos1"); err == nil {
		t.Error("Expected error for unknown dialect")
	}
	db, err := OpenSQL(ctx, DialectSQLite, dsn, "pos1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer db.Close()
	frames, tl := sampleTimeline()
	for i := range frames {
		if err := db.SaveFrame(ctx, i, frames[i], tl[i]); err != nil {
			t.Fatalf("SaveFrame %d: %v", i, err)
		}
	}
	// saving again replaces rows
	if err := db.SaveFrame(ctx, 1, frames[1], tl[1]); err != nil {
		t.Fatalf("SaveFrame: %v", err)
	}
	got, err := db.LoadTimeline(ctx)
	if err != nil {
		t.Fatalf("LoadTimeline: %v", err)
	}
	if !got.Equal(tl) {
		t.Errorf("Loaded timeline differs: %v", got)
	}

	withEmpty := lineage.Timeline{tl[0], {}}
	if err := db.SaveLineage(ctx, withEmpty); err != nil {
		t.Fatalf("SaveLineage: %v", err)
	}
	got, err = db.LoadTimeline(ctx)
	if err != nil {
		t.Fatalf("LoadTimeline: %v", err)
	}
	if !got.Equal(withEmpty) {
		t.Errorf("Empty frame must stay set, got %v", got)
	}

	// other positions share the database without interfering
	other, err := OpenSQL(ctx, DialectSQLite, dsn, "pos2")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer other.Close()
	empty, err := other.LoadTimeline(ctx)
	if err != nil {
		t.Fatalf("LoadTimeline: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no frames for pos2, got %d", len(empty))
	}

	for _, next := range []int{9, 12} {
		if err := db.SaveNextFreeID(ctx, next); err != nil {
			t.Fatalf("SaveNextFreeID: %v", err)
		}
	}
	if next, err := db.LoadNextFreeID(ctx); err != nil || next != 12 {
		t.Errorf("Expected next free ID 12, got %d (%v)", next, err)
	}
	if next, err := other.LoadNextFreeID(ctx); err != nil || next != 0 {
		t.Errorf("Expected no state for pos2, got %d (%v)", next, err)
	}
}

func TestPositionNextFreeID(t *testing.T) {
	ctx := context.Background()
	pos, err := NewPosition(blob.NewMemory(), "pos1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	next, err := pos.LoadNextFreeID(ctx)
	if err != nil || next != 0 {
		t.Errorf("Expected zero before anything is stored, got %d (%v)", next, err)
	}
	if err := pos.SaveNextFreeID(ctx, 70001); err != nil {
		t.Fatalf("SaveNextFreeID: %v", err)
	}
	next, err = pos.LoadNextFreeID(ctx)
	if err != nil || next != 70001 {
		t.Errorf("Expected 70001, got %d (%v)", next, err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQL{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("Unexpected rebind %q", got)
	}
	lite := &SQL{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("Unexpected rebind %q", got)
	}
}
