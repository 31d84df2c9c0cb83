package lineage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

// MotherSearchSet restricts candidates considered as mother of a new bud
type MotherSearchSet uint8

const (
	// MotherSearchG1 considers cells in G1 only (default)
	MotherSearchG1 MotherSearchSet = iota
	// MotherSearchAny considers every pre-existing cell; a bud nearest to a cell in S stays unresolved
	MotherSearchAny
)

func (m MotherSearchSet) String() string {
	switch m {
	case MotherSearchAny:
		return "any"
	default:
		return "g1"
	}
}

// ParseMotherSearch converts textual search set name
func ParseMotherSearch(name string) (MotherSearchSet, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "g1", "g1-only":
		return MotherSearchG1, nil
	case "any":
		return MotherSearchAny, nil
	default:
		return MotherSearchG1, fmt.Errorf("unknown mother search set '%s'", name)
	}
}

// contourIndex is nearest neighbour index over contour pixels of candidate mothers
type contourIndex struct {
	tree   *kdtree.Tree
	owners map[[2]int]int
}

// newContourIndex returns nil when no candidate has contour pixels
func newContourIndex(contours map[int][]labels.Pixel, candidates []int) *contourIndex {
	points := make(kdtree.Points, 0)
	owners := make(map[[2]int]int)
	for _, id := range candidates {
		for _, px := range contours[id] {
			key := px.YX()
			// Traced contours revisit pinch pixels
			if _, ok := owners[key]; ok {
				continue
			}
			owners[key] = id
			points = append(points, kdtree.Point{float64(px.Y), float64(px.X)})
		}
	}
	if len(points) == 0 {
		return nil
	}
	return &contourIndex{
		tree:   kdtree.New(points, false),
		owners: owners,
	}
}

// nearest returns the candidate owning the contour pixel nearest to any query pixel.
// Exact ties go to the smaller CellID
func (idx *contourIndex) nearest(query []labels.Pixel) (int, bool) {
	best := math.Inf(1)
	for _, px := range query {
		_, dist := idx.tree.Nearest(kdtree.Point{float64(px.Y), float64(px.X)})
		if dist < best {
			best = dist
		}
	}
	if math.IsInf(best, 1) {
		return 0, false
	}
	// Squared distances of integer pixels are exact, so equality is safe here
	winner := 0
	for _, px := range query {
		keeper := kdtree.NewDistKeeper(best)
		idx.tree.NearestSet(keeper, kdtree.Point{float64(px.Y), float64(px.X)})
		for _, cd := range keeper.Heap {
			if cd.Comparable == nil {
				continue
			}
			p := cd.Comparable.(kdtree.Point)
			id := idx.owners[[2]int{int(p[0]), int(p[1])}]
			if winner == 0 || id < winner {
				winner = id
			}
		}
	}
	return winner, winner != 0
}

// assignBuds marks buds as unresolved S buds of frame t and pairs each of them, in ascending order,
// with the nearest candidate mother by contour distance. A mother claimed by an earlier bud is in S
// and is not a candidate any more
func assignBuds(d *draft, t int, buds []int, lab labels.Image, search MotherSearchSet) []errs.Warning {
	warnings := make([]errs.Warning, 0)
	if len(buds) == 0 {
		return warnings
	}
	buds = append([]int(nil), buds...)
	sort.Ints(buds)
	isBud := make(map[int]struct{}, len(buds))
	for _, b := range buds {
		isBud[b] = struct{}{}
	}

	tbl := d.mutable(t)
	for _, b := range buds {
		rec, ok := tbl[b]
		if !ok {
			tbl[b] = NewBud(t)
			continue
		}
		rec.Stage = StageS
		rec.CyclesCount = 0
		rec.RelativeID = Unresolved
		rec.Relationship = RelationshipBud
		tbl[b] = rec
	}

	preexisting := make([]int, 0, len(tbl))
	for _, id := range tbl.IDs() {
		if _, ok := isBud[id]; !ok {
			preexisting = append(preexisting, id)
		}
	}
	contours := labels.Contours(lab, append(append([]int(nil), preexisting...), buds...), labels.ContourOptions{})

	for _, b := range buds {
		budContour, ok := contours[b]
		if !ok || len(budContour) == 0 {
			warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: t, CellID: b, Reason: "bud has no pixels in the label frame"})
			continue
		}
		candidates := make([]int, 0, len(preexisting))
		for _, id := range preexisting {
			if search == MotherSearchG1 && tbl[id].Stage != StageG1 {
				continue
			}
			candidates = append(candidates, id)
		}
		idx := newContourIndex(contours, candidates)
		if idx == nil {
			warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: t, CellID: b, Reason: "no candidate mother in G1"})
			continue
		}
		m, ok := idx.nearest(budContour)
		if !ok {
			warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: t, CellID: b, Reason: "no candidate mother in G1"})
			continue
		}
		mother := tbl[m]
		if mother.Stage != StageG1 {
			warnings = append(warnings, errs.Warning{Kind: errs.KindAmbiguous, Frame: t, CellID: b, Reason: fmt.Sprintf("nearest cell %d is not in G1", m)})
			continue
		}
		mother.Stage = StageS
		mother.RelativeID = b
		mother.Relationship = RelationshipMother
		tbl[m] = mother
		bud := tbl[b]
		bud.RelativeID = m
		tbl[b] = bud
	}
	return warnings
}
