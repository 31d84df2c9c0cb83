package tracking

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/arthurkushman/go-hungarian"
)

// AssignmentAlgorithm is for algorithm type for matching current objects to previous ones
type AssignmentAlgorithm uint16

const (
	// AssignmentGreedy resolves claims greedily by IoA (default)
	AssignmentGreedy AssignmentAlgorithm = iota
	// AssignmentHungarian uses the Hungarian algorithm (Kuhn-Munkres) maximizing total IoA
	AssignmentHungarian
)

func (a AssignmentAlgorithm) String() string {
	switch a {
	case AssignmentHungarian:
		return "hungarian"
	default:
		return "greedy"
	}
}

// ParseAssignment converts textual algorithm name
func ParseAssignment(name string) (AssignmentAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "greedy":
		return AssignmentGreedy, nil
	case "hungarian":
		return AssignmentHungarian, nil
	default:
		return AssignmentGreedy, fmt.Errorf("unknown assignment algorithm '%s'", name)
	}
}

// assignGreedy returns row -> column assignments.
// Every row claims its best column if the score is strictly above threshold;
// claims are served from the highest score down and a column can be reserved once.
func assignGreedy(m IoA, threshold float64) map[int]int {
	pq := &claimHeap{}
	heap.Init(pq)
	for i, row := range m.Matrix {
		if len(row) == 0 {
			continue
		}
		bestCol := 0
		bestScore := row[0]
		for j := 1; j < len(row); j++ {
			if row[j] > bestScore {
				bestScore = row[j]
				bestCol = j
			}
		}
		// Exactly at threshold is not enough
		if bestScore > threshold {
			heap.Push(pq, &claim{score: bestScore, row: i, col: bestCol, currID: m.CurrIDs[i]})
		}
	}

	assignments := make(map[int]int)
	// Prevent double ownership of previous objects
	reservedCols := make(map[int]struct{})
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*claim)
		if _, ok := reservedCols[item.col]; ok {
			// Split: this claimant loses and will be registered as a new object
			continue
		}
		assignments[item.row] = item.col
		reservedCols[item.col] = struct{}{}
	}
	return assignments
}

// assignHungarian returns row -> column assignments maximizing total IoA.
// Pairs not strictly above threshold are dropped.
func assignHungarian(m IoA, threshold float64) map[int]int {
	assignments := make(map[int]int)
	numRows := m.Rows()
	numCols := m.Cols()
	if numRows == 0 || numCols == 0 {
		return assignments
	}
	paddedSize := maxInt(numRows, numCols)
	paddedMatrix := make([][]float64, paddedSize)
	for i := 0; i < paddedSize; i++ {
		paddedMatrix[i] = make([]float64, paddedSize)
	}
	for i := 0; i < numRows; i++ {
		copy(paddedMatrix[i], m.Matrix[i])
	}
	solution := hungarian.SolveMax(paddedMatrix)
	for row, rowMap := range solution {
		for col := range rowMap {
			if row < numRows && col < numCols && m.Matrix[row][col] > threshold {
				assignments[row] = col
			}
			break
		}
	}
	return assignments
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
