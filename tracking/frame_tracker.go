package tracking

import (
	"fmt"
	"sort"

	"github.com/LdDl/budtrack/labels"
)

// DefaultIoAThreshold is the minimal IoA (exclusive) for a current object to inherit a previous ID
const DefaultIoAThreshold = 0.4

// FrameTracker maps objects of a current label frame to objects of the previous (tracked) frame
type FrameTracker struct {
	threshold float64
	algorithm AssignmentAlgorithm
}

// NewDefaultFrameTracker creates tracker with threshold 0.4 and greedy assignment
func NewDefaultFrameTracker() *FrameTracker {
	return NewFrameTracker(DefaultIoAThreshold, AssignmentGreedy)
}

// NewFrameTracker creates tracker with given parameters
//
// threshold - current object keeps previous ID only when its IoA is strictly greater than this value
// algorithm - claim resolution algorithm. See AssignmentAlgorithm
func NewFrameTracker(threshold float64, algorithm AssignmentAlgorithm) *FrameTracker {
	return &FrameTracker{
		threshold: threshold,
		algorithm: algorithm,
	}
}

// Threshold returns IoA cutoff
func (tracker *FrameTracker) Threshold() float64 {
	return tracker.threshold
}

// Algorithm returns assignment algorithm
func (tracker *FrameTracker) Algorithm() AssignmentAlgorithm {
	return tracker.algorithm
}

// PairResult is outcome of tracking one frame against its predecessor
type PairResult struct {
	// Tracked is the current frame with IDs remapped
	Tracked labels.Image
	// NewIDs holds tracked IDs issued for objects without previous match, ascending
	NewIDs []int
	// NextFreeID is the next ID the video may issue
	NextFreeID int
}

// TrackPair remaps current objects to previous IDs. Objects that split from an already claimed
// previous object, or that have no overlap above threshold, receive fresh IDs starting at nextFreeID
// in ascending order of their raw labels.
func (tracker *FrameTracker) TrackPair(prevLab, currLab labels.Image, nextFreeID int) (PairResult, error) {
	return tracker.trackPair(prevLab, currLab, nil, nil, nextFreeID)
}

// trackPair is TrackPair with optional precomputed regions
func (tracker *FrameTracker) trackPair(prevLab, currLab labels.Image, prevRP, currRP []labels.Region, nextFreeID int) (PairResult, error) {
	if nextFreeID < 1 {
		nextFreeID = 1
	}
	m, err := ComputeIoA(prevLab, currLab, prevRP, currRP)
	if err != nil {
		return PairResult{}, err
	}

	var assignments map[int]int
	switch tracker.algorithm {
	case AssignmentGreedy:
		assignments = assignGreedy(m, tracker.threshold)
	case AssignmentHungarian:
		assignments = assignHungarian(m, tracker.threshold)
	default:
		return PairResult{}, fmt.Errorf("unsupported assignment algorithm %d", tracker.algorithm)
	}

	mapping := make(map[int]int, m.Rows())
	newIDs := make([]int, 0)
	// Rows already follow ascending raw labels
	for i, currID := range m.CurrIDs {
		if j, ok := assignments[i]; ok {
			mapping[currID] = m.PrevIDs[j]
			continue
		}
		mapping[currID] = nextFreeID
		newIDs = append(newIDs, nextFreeID)
		nextFreeID++
	}
	sort.Ints(newIDs)

	return PairResult{
		Tracked:    labels.Relabel(currLab, mapping),
		NewIDs:     newIDs,
		NextFreeID: nextFreeID,
	}, nil
}
