package tracking

import (
	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

// IoA is an intersection-over-area matrix between objects of two consecutive frames.
// Matrix[i][j] is the overlap of CurrIDs[i] with PrevIDs[j] divided by area of PrevIDs[j].
type IoA struct {
	Matrix  [][]float64
	CurrIDs []int
	PrevIDs []int
}

// Rows returns number of current objects
func (m IoA) Rows() int {
	return len(m.CurrIDs)
}

// Cols returns number of previous objects
func (m IoA) Cols() int {
	return len(m.PrevIDs)
}

// ComputeIoA builds IoA matrix for a pair of label images. Region lists are optional:
// when nil they are extracted from the images. Rows and columns follow ascending IDs.
func ComputeIoA(prevLab, currLab labels.Image, prevRP, currRP []labels.Region) (IoA, error) {
	if !prevLab.SameShape(currLab) {
		return IoA{}, errs.Input(errs.NoFrame, "shape mismatch: previous frame is %dx%d, current frame is %dx%d",
			prevLab.Height, prevLab.Width, currLab.Height, currLab.Width)
	}
	if prevRP == nil {
		prevRP = labels.Regions(prevLab)
	}
	if currRP == nil {
		currRP = labels.Regions(currLab)
	}
	prevIdx := make(map[int32]int, len(prevRP))
	prevIDs := make([]int, len(prevRP))
	for j, region := range prevRP {
		prevIdx[int32(region.ID)] = j
		prevIDs[j] = region.ID
	}
	currIdx := make(map[int32]int, len(currRP))
	currIDs := make([]int, len(currRP))
	for i, region := range currRP {
		currIdx[int32(region.ID)] = i
		currIDs[i] = region.ID
	}

	matrix := make([][]float64, len(currIDs))
	for i := range matrix {
		matrix[i] = make([]float64, len(prevIDs))
	}
	if len(prevIDs) == 0 || len(currIDs) == 0 {
		return IoA{Matrix: matrix, CurrIDs: currIDs, PrevIDs: prevIDs}, nil
	}

	// Count intersections in a single pass
	for k, p := range prevLab.Pix {
		if p == labels.Background {
			continue
		}
		c := currLab.Pix[k]
		if c == labels.Background {
			continue
		}
		i, okC := currIdx[c]
		j, okP := prevIdx[p]
		if okC && okP {
			matrix[i][j]++
		}
	}
	for j, region := range prevRP {
		if region.Area == 0 {
			continue
		}
		area := float64(region.Area)
		for i := range matrix {
			matrix[i][j] /= area
		}
	}
	return IoA{Matrix: matrix, CurrIDs: currIDs, PrevIDs: prevIDs}, nil
}
