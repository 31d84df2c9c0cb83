package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/internal/blob"
	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/lineage"
)

// Position stores label frames and lineage tables of one position on a blob store.
// Every object is replaced atomically; the lineage table is written after the label frame
type Position struct {
	store blob.Store
	name  string
}

// NewPosition binds position name to a blob store
func NewPosition(store blob.Store, name string) (*Position, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, errors.Errorf("invalid position name %q", name)
	}
	return &Position{store: store, name: name}, nil
}

// Name returns position name
func (p *Position) Name() string {
	return p.name
}

// LabelKey returns blob key of label frame t
func (p *Position) LabelKey(t int) string {
	return fmt.Sprintf("%s/labels/%06d.lab", p.name, t)
}

// LineageKey returns blob key of lineage table of frame t
func (p *Position) LineageKey(t int) string {
	return fmt.Sprintf("%s/lineage/%06d.csv", p.name, t)
}

// ExportKey returns blob key of whole timeline export
func (p *Position) ExportKey() string {
	return p.name + "/lineage.csv"
}

// StateKey returns blob key of position state (ID pool)
func (p *Position) StateKey() string {
	return p.name + "/state.json"
}

type positionState struct {
	NextFreeID int `json:"next_free_id"`
}

// SaveNextFreeID stores next free CellID of the position
func (p *Position) SaveNextFreeID(ctx context.Context, next int) error {
	data, err := json.Marshal(positionState{NextFreeID: next})
	if err != nil {
		return errors.Wrap(err, "can't encode position state")
	}
	_, err = p.store.Put(ctx, p.StateKey(), bytes.NewReader(data))
	return err
}

// LoadNextFreeID reads stored next free CellID. Zero is returned when nothing was stored yet
func (p *Position) LoadNextFreeID(ctx context.Context) (int, error) {
	data, err := blob.ReadAll(ctx, p.store, p.StateKey())
	if errors.Is(err, blob.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var state positionState
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, errors.Wrap(err, "can't decode position state")
	}
	return state.NextFreeID, nil
}

// SaveFrame stores label frame and lineage table of frame t
func (p *Position) SaveFrame(ctx context.Context, t int, lab labels.Image, tbl lineage.Table) error {
	var buf bytes.Buffer
	if err := EncodeLabels(&buf, lab); err != nil {
		return errors.Wrapf(err, "can't encode label frame %d", t)
	}
	if _, err := p.store.Put(ctx, p.LabelKey(t), &buf); err != nil {
		return err
	}
	return p.saveTable(ctx, t, tbl)
}

func (p *Position) saveTable(ctx context.Context, t int, tbl lineage.Table) error {
	var buf bytes.Buffer
	if err := lineage.WriteFrameCSV(&buf, t, tbl); err != nil {
		return err
	}
	_, err := p.store.Put(ctx, p.LineageKey(t), &buf)
	return err
}

// SaveLineage stores every set table of timeline, drops stored tables of later frames
// and refreshes the whole timeline export
func (p *Position) SaveLineage(ctx context.Context, tl lineage.Timeline) error {
	for t, tbl := range tl {
		if tbl == nil {
			continue
		}
		if err := p.saveTable(ctx, t, tbl); err != nil {
			return err
		}
	}
	stored, err := p.frameIndices(ctx, "lineage/", ".csv")
	if err != nil {
		return err
	}
	for _, t := range stored {
		if t >= len(tl) || tl[t] == nil {
			if _, err := p.store.Delete(ctx, p.LineageKey(t)); err != nil {
				return err
			}
		}
	}
	var buf bytes.Buffer
	if err := lineage.WriteCSV(&buf, tl); err != nil {
		return err
	}
	_, err = p.store.Put(ctx, p.ExportKey(), &buf)
	return err
}

// LoadFrame reads label frame and lineage table of frame t
func (p *Position) LoadFrame(ctx context.Context, t int) (labels.Image, lineage.Table, error) {
	lab, err := p.loadLabels(ctx, t)
	if err != nil {
		return labels.Image{}, nil, err
	}
	tbl, err := p.loadTable(ctx, t)
	if err != nil {
		return labels.Image{}, nil, err
	}
	return lab, tbl, nil
}

func (p *Position) loadLabels(ctx context.Context, t int) (labels.Image, error) {
	rc, err := p.store.Get(ctx, p.LabelKey(t))
	if err != nil {
		return labels.Image{}, err
	}
	defer rc.Close()
	lab, err := DecodeLabels(rc)
	if err != nil {
		return labels.Image{}, errors.Wrapf(err, "can't decode label frame %d", t)
	}
	return lab, nil
}

func (p *Position) loadTable(ctx context.Context, t int) (lineage.Table, error) {
	data, err := blob.ReadAll(ctx, p.store, p.LineageKey(t))
	if err != nil {
		return nil, err
	}
	tl, err := lineage.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "can't decode lineage table %d", t)
	}
	if !tl.IsSet(t) || len(tl) != t+1 {
		return nil, errors.Errorf("lineage object of frame %d holds other frames", t)
	}
	return tl[t], nil
}

// Load reads consecutive frames starting from 0 which have both label frame and lineage table
func (p *Position) Load(ctx context.Context) ([]labels.Image, lineage.Timeline, error) {
	labelFrames, err := p.frameIndices(ctx, "labels/", ".lab")
	if err != nil {
		return nil, nil, err
	}
	tableFrames, err := p.frameIndices(ctx, "lineage/", ".csv")
	if err != nil {
		return nil, nil, err
	}
	n := consecutive(labelFrames)
	if m := consecutive(tableFrames); m < n {
		n = m
	}
	frames := make([]labels.Image, n)
	tl := make(lineage.Timeline, n)
	for t := 0; t < n; t++ {
		lab, tbl, err := p.LoadFrame(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		frames[t] = lab
		tl[t] = tbl
	}
	return frames, tl, nil
}

// ExportCSV writes whole stored timeline
func (p *Position) ExportCSV(ctx context.Context, w io.Writer) error {
	tableFrames, err := p.frameIndices(ctx, "lineage/", ".csv")
	if err != nil {
		return err
	}
	tl := make(lineage.Timeline, consecutive(tableFrames))
	for t := range tl {
		tbl, err := p.loadTable(ctx, t)
		if err != nil {
			return err
		}
		tl[t] = tbl
	}
	return lineage.WriteCSV(w, tl)
}

// frameIndices lists sorted frame indices stored under dir
func (p *Position) frameIndices(ctx context.Context, dir, ext string) ([]int, error) {
	infos, err := p.store.List(ctx, p.name+"/"+dir)
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(infos))
	for _, info := range infos {
		base := path.Base(info.Key)
		if !strings.HasSuffix(base, ext) {
			continue
		}
		t, err := strconv.Atoi(strings.TrimSuffix(base, ext))
		if err != nil || t < 0 {
			continue
		}
		indices = append(indices, t)
	}
	return indices, nil
}

// consecutive returns length of 0, 1, 2... run at the start of sorted indices
func consecutive(indices []int) int {
	n := 0
	for _, t := range indices {
		if t != n {
			break
		}
		n++
	}
	return n
}
