package lineage

import (
	"sort"
)

// draft is copy-on-write view over a committed timeline.
// Tables are cloned on first write; untouched frames are shared with the base.
type draft struct {
	base    Timeline
	tables  map[int]Table
	length  int
	touched map[int]struct{}
}

func newDraft(base Timeline) *draft {
	return &draft{
		base:    base,
		tables:  make(map[int]Table),
		length:  len(base),
		touched: make(map[int]struct{}),
	}
}

func (d *draft) len() int {
	return d.length
}

// table returns read-only table of frame t or nil when unset
func (d *draft) table(t int) Table {
	if t < 0 || t >= d.length {
		return nil
	}
	if tbl, ok := d.tables[t]; ok {
		return tbl
	}
	if t < len(d.base) {
		return d.base[t]
	}
	return nil
}

func (d *draft) isSet(t int) bool {
	return d.table(t) != nil
}

func (d *draft) record(t, id int) (Record, bool) {
	tbl := d.table(t)
	if tbl == nil {
		return Record{}, false
	}
	rec, ok := tbl[id]
	return rec, ok
}

// mutable returns writable table of frame t, cloning the base table on first call
func (d *draft) mutable(t int) Table {
	if tbl, ok := d.tables[t]; ok {
		d.touched[t] = struct{}{}
		return tbl
	}
	var tbl Table
	if t < len(d.base) && d.base[t] != nil {
		tbl = d.base[t].Clone()
	} else {
		tbl = make(Table)
	}
	d.tables[t] = tbl
	d.touched[t] = struct{}{}
	if t >= d.length {
		d.length = t + 1
	}
	return tbl
}

// replace sets whole table of frame t
func (d *draft) replace(t int, tbl Table) {
	d.tables[t] = tbl
	d.touched[t] = struct{}{}
	if t >= d.length {
		d.length = t + 1
	}
}

func (d *draft) put(t, id int, rec Record) {
	tbl := d.table(t)
	if tbl != nil {
		if old, ok := tbl[id]; ok && old == rec {
			return
		}
	}
	d.mutable(t)[id] = rec
}

func (d *draft) remove(t, id int) {
	if _, ok := d.record(t, id); !ok {
		return
	}
	delete(d.mutable(t), id)
}

// truncate drops frames >= n
func (d *draft) truncate(n int) {
	if n >= d.length {
		return
	}
	for t := range d.tables {
		if t >= n {
			delete(d.tables, t)
			delete(d.touched, t)
		}
	}
	d.length = n
}

// changed returns touched frames in ascending order
func (d *draft) changed() []int {
	frames := make([]int, 0, len(d.touched))
	for t := range d.touched {
		if t < d.length {
			frames = append(frames, t)
		}
	}
	sort.Ints(frames)
	return frames
}

// timeline materializes the view
func (d *draft) timeline() Timeline {
	tl := make(Timeline, d.length)
	for t := 0; t < d.length; t++ {
		tl[t] = d.table(t)
	}
	return tl
}
