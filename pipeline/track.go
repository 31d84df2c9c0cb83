package pipeline

import (
	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/tracking"
)

// TrackSnapshot is a copy of centroid track of one cell
type TrackSnapshot struct {
	ID           int            `json:"cell_id"`
	FirstFrame   int            `json:"first_frame"`
	LastFrame    int            `json:"last_frame"`
	Area         int            `json:"area"`
	Centroids    []labels.Point `json:"centroids"`
	Smoothed     []labels.Point `json:"smoothed"`
	Displacement float64        `json:"displacement"`
}

func snapshotTrack(track *tracking.CellTrack) TrackSnapshot {
	centroids := make([]labels.Point, len(track.GetCentroids()))
	copy(centroids, track.GetCentroids())
	smoothed := make([]labels.Point, len(track.GetSmoothed()))
	copy(smoothed, track.GetSmoothed())
	return TrackSnapshot{
		ID:           track.GetID(),
		FirstFrame:   track.FirstFrame(),
		LastFrame:    track.LastFrame(),
		Area:         track.GetArea(),
		Centroids:    centroids,
		Smoothed:     smoothed,
		Displacement: track.Displacement(),
	}
}
