package tracking

import (
	"context"
	"math/rand"
	"testing"

	"github.com/LdDl/budtrack/labels/labeltest"
)

func TestTrackVideoProperties(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		rng := rand.New(rand.NewSource(seed))
		opts := labeltest.DefaultVideoOptions()
		opts.Frames = 2 + rng.Intn(8)
		opts.Shuffle = seed%2 == 0
		frames := labeltest.RandomVideo(rng, opts)

		tracker := NewDefaultFrameTracker()
		if seed%3 == 0 {
			tracker = NewFrameTracker(0.4, AssignmentHungarian)
		}
		video, err := TrackVideo(context.Background(), frames, tracker, nil)
		if err != nil {
			t.Fatalf("Seed %d: unexpected error: %v", seed, err)
		}
		out := video.Frames()
		if len(out) != len(frames) {
			t.Fatalf("Seed %d: expected %d frames, got %d", seed, len(frames), len(out))
		}
		if !out[0].Equal(frames[0]) {
			t.Errorf("Seed %d: first frame must be kept as is", seed)
		}

		maxSeen := out[0].MaxID()
		for i := 1; i < len(out); i++ {
			prev := out[i-1].IDSet()
			for _, id := range out[i].IDs() {
				if _, ok := prev[id]; !ok && id <= maxSeen {
					t.Errorf("Seed %d, frame %d: ID %d is neither carried over nor fresh (max seen %d)", seed, i, id, maxSeen)
				}
			}
			maxSeen = max(maxSeen, out[i].MaxID())
		}

		for i, lab := range out {
			res, err := tracker.TrackPair(lab, lab, lab.MaxID()+1)
			if err != nil {
				t.Fatalf("Seed %d, frame %d: unexpected error: %v", seed, i, err)
			}
			if !res.Tracked.Equal(lab) || len(res.NewIDs) != 0 {
				t.Errorf("Seed %d, frame %d: identical frame must be tracked unchanged, new IDs %v", seed, i, res.NewIDs)
			}
		}
	}
}
