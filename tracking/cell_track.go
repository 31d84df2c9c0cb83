package tracking

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/labels"
)

// Shift is per frame (dy, dx) offset produced by an external alignment step.
// Tracking consumes it read-only
type Shift struct {
	DY int `json:"dy"`
	DX int `json:"dx"`
}

// CellTrack is centroid history of one CellID smoothed by 2D Kalman filter
type CellTrack struct {
	id             int
	firstFrame     int
	lastFrame      int
	rawCentroids   []labels.Point
	smoothed       []labels.Point
	predictedNext  labels.Point
	maxTrackLen    int
	tracker        *kalman_filter.Kalman2D
	lastArea       int
	lastBoundingBB labels.Rectangle
}

// NewCellTrack starts track of a cell at given frame
func NewCellTrack(region labels.Region, frame int) *CellTrack {
	return NewCellTrackWithTime(region, frame, 1.0)
}

// NewCellTrackWithTime starts track with custom time step between frames
func NewCellTrackWithTime(region labels.Region, frame int, dt float64) *CellTrack {
	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	kf := kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(region.Centroid.X, region.Centroid.Y))
	track := CellTrack{
		id:             region.ID,
		firstFrame:     frame,
		lastFrame:      frame,
		rawCentroids:   make([]labels.Point, 0, 150),
		smoothed:       make([]labels.Point, 0, 150),
		maxTrackLen:    150,
		tracker:        kf,
		lastArea:       region.Area,
		lastBoundingBB: region.BBox,
	}
	track.rawCentroids = append(track.rawCentroids, region.Centroid)
	track.smoothed = append(track.smoothed, region.Centroid)
	return &track
}

// GetID returns CellID of the track
func (track *CellTrack) GetID() int {
	return track.id
}

// FirstFrame returns frame where the cell was first seen
func (track *CellTrack) FirstFrame() int {
	return track.firstFrame
}

// LastFrame returns frame of the latest observation
func (track *CellTrack) LastFrame() int {
	return track.lastFrame
}

// GetArea returns area at the latest observation
func (track *CellTrack) GetArea() int {
	return track.lastArea
}

// GetBBox returns bounding box at the latest observation
func (track *CellTrack) GetBBox() labels.Rectangle {
	return track.lastBoundingBB
}

// GetCentroids returns raw centroids. Be careful: this is not copy of track, but reference to it
func (track *CellTrack) GetCentroids() []labels.Point {
	return track.rawCentroids
}

// GetSmoothed returns Kalman-smoothed centroids. Be careful: this is not copy of track, but reference to it
func (track *CellTrack) GetSmoothed() []labels.Point {
	return track.smoothed
}

// GetPredicted returns position predicted by the last PredictNextPosition call
func (track *CellTrack) GetPredicted() labels.Point {
	return track.predictedNext
}

// SetMaxTrackLen sets max number of kept observations
func (track *CellTrack) SetMaxTrackLen(newMaxTrackLen int) {
	track.maxTrackLen = newMaxTrackLen
}

// Displacement returns distance between the first and the last smoothed centroids
func (track *CellTrack) Displacement() float64 {
	if len(track.smoothed) < 2 {
		return 0
	}
	return labels.EuclideanDistance(track.smoothed[0], track.smoothed[len(track.smoothed)-1])
}

// PredictNextPosition execute Kalman filter's first step but without re-evaluating state vector based on Kalman gain
func (track *CellTrack) PredictNextPosition() {
	track.tracker.Predict()
	stateX, stateY := track.tracker.GetState()
	track.predictedNext = labels.NewPoint(stateX, stateY)
}

// Update appends observation and execute Kalman filter's second step
func (track *CellTrack) Update(region labels.Region, frame int) error {
	track.PredictNextPosition()
	err := track.tracker.Update(region.Centroid.X, region.Centroid.Y)
	if err != nil {
		return errors.Wrapf(err, "Can't update track of cell %d", track.id)
	}
	stateX, stateY := track.tracker.GetState()
	track.lastFrame = frame
	track.lastArea = region.Area
	track.lastBoundingBB = region.BBox
	track.rawCentroids = append(track.rawCentroids, region.Centroid)
	track.smoothed = append(track.smoothed, labels.NewPoint(stateX, stateY))
	if len(track.smoothed) > track.maxTrackLen {
		track.smoothed = track.smoothed[1:]
		track.rawCentroids = track.rawCentroids[1:]
	}
	return nil
}
