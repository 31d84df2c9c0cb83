// Package lineage maintains cell-cycle records of every cell across a time series:
// mother/bud pairing, division annotation and generation counting.
package lineage

import (
	"fmt"
	"sort"
	"strings"
)

// Stage is cell-cycle stage
type Stage uint8

const (
	// StageG1 is a cell without attached bud
	StageG1 Stage = iota
	// StageS is a cell in a mother/bud pair
	StageS
)

func (s Stage) String() string {
	switch s {
	case StageS:
		return "S"
	default:
		return "G1"
	}
}

// ParseStage converts textual stage
func ParseStage(s string) (Stage, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "G1":
		return StageG1, nil
	case "S":
		return StageS, nil
	default:
		return StageG1, fmt.Errorf("unknown cycle stage '%s'", s)
	}
}

// Relationship is role of a cell within a pair
type Relationship uint8

const (
	// RelationshipMother is a cell which retains the large component
	RelationshipMother Relationship = iota
	// RelationshipBud is a newly emerged cell
	RelationshipBud
)

func (r Relationship) String() string {
	switch r {
	case RelationshipBud:
		return "bud"
	default:
		return "mother"
	}
}

// ParseRelationship converts textual relationship
func ParseRelationship(s string) (Relationship, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mother":
		return RelationshipMother, nil
	case "bud":
		return RelationshipBud, nil
	default:
		return RelationshipMother, fmt.Errorf("unknown relationship '%s'", s)
	}
}

const (
	// NoRelative marks a cell without partner
	NoRelative = 0
	// Unresolved marks a bud whose mother could not be chosen
	Unresolved = -1
	// NoFrame marks unknown emergence or absent division
	NoFrame = -1
)

// Record is cell-cycle record of one cell at one frame
type Record struct {
	Stage          Stage
	CyclesCount    int
	RelativeID     int
	Relationship   Relationship
	EmergenceFrame int
	DivisionFrame  int
	Discard        bool
}

// NewBud returns record of a bud which emerged at frame t and has no mother yet
func NewBud(t int) Record {
	return Record{
		Stage:          StageS,
		CyclesCount:    0,
		RelativeID:     Unresolved,
		Relationship:   RelationshipBud,
		EmergenceFrame: t,
		DivisionFrame:  NoFrame,
	}
}

// DefaultSeed returns record for a cell of the first frame with unknown history
func DefaultSeed() Record {
	return Record{
		Stage:          StageG1,
		CyclesCount:    2,
		RelativeID:     NoRelative,
		Relationship:   RelationshipMother,
		EmergenceFrame: NoFrame,
		DivisionFrame:  NoFrame,
	}
}

// pairedWith reports whether record is in S with given partner
func (rec Record) pairedWith(id int) bool {
	return rec.Stage == StageS && rec.RelativeID == id
}

// dividedWith reports whether record is in G1 after division d with given partner
func (rec Record) dividedWith(id, d int) bool {
	return rec.Stage == StageG1 && rec.RelativeID == id && rec.DivisionFrame == d
}

// Table is lineage table of one frame: CellID -> record
type Table map[int]Record

// Clone returns copy of table
func (tbl Table) Clone() Table {
	if tbl == nil {
		return nil
	}
	out := make(Table, len(tbl))
	for id, rec := range tbl {
		out[id] = rec
	}
	return out
}

// IDs returns sorted CellIDs
func (tbl Table) IDs() []int {
	ids := make([]int, 0, len(tbl))
	for id := range tbl {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Equal reports whether tables hold the same records
func (tbl Table) Equal(other Table) bool {
	if len(tbl) != len(other) {
		return false
	}
	for id, rec := range tbl {
		otherRec, ok := other[id]
		if !ok || otherRec != rec {
			return false
		}
	}
	return true
}

// Timeline is lineage table of every frame. nil entry means the frame is unset
type Timeline []Table

// Clone returns deep copy of timeline
func (tl Timeline) Clone() Timeline {
	out := make(Timeline, len(tl))
	for t, tbl := range tl {
		out[t] = tbl.Clone()
	}
	return out
}

// IsSet reports whether frame t has a table
func (tl Timeline) IsSet(t int) bool {
	return t >= 0 && t < len(tl) && tl[t] != nil
}

// Record returns record of a cell at frame t
func (tl Timeline) Record(t, id int) (Record, bool) {
	if !tl.IsSet(t) {
		return Record{}, false
	}
	rec, ok := tl[t][id]
	return rec, ok
}

// Equal reports whether timelines hold the same frames
func (tl Timeline) Equal(other Timeline) bool {
	if len(tl) != len(other) {
		return false
	}
	for t := range tl {
		if (tl[t] == nil) != (other[t] == nil) {
			return false
		}
		if !tl[t].Equal(other[t]) {
			return false
		}
	}
	return true
}
