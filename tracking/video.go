package tracking

import (
	"context"
	"sort"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/labels"
)

// Video is a tracked label video built frame by frame.
// It owns region properties cache of every tracked frame and the ID pool.
type Video struct {
	tracker *FrameTracker
	frames  []labels.Image
	regions []labels.RegionMap
	newIDs  [][]int
	pool    *IDPool
	tracks  map[int]*CellTrack
}

// NewVideo creates empty video tracked by given frame tracker
func NewVideo(tracker *FrameTracker) *Video {
	if tracker == nil {
		tracker = NewDefaultFrameTracker()
	}
	return &Video{
		tracker: tracker,
		frames:  make([]labels.Image, 0),
		regions: make([]labels.RegionMap, 0),
		newIDs:  make([][]int, 0),
		pool:    NewIDPool(),
		tracks:  make(map[int]*CellTrack),
	}
}

// Len returns number of tracked frames
func (v *Video) Len() int {
	return len(v.frames)
}

// NextFreeID returns ID which will be issued to the next new object
func (v *Video) NextFreeID() int {
	return v.pool.Peek()
}

// ReserveIDs retires every ID below next. It never lowers the pool
func (v *Video) ReserveIDs(next int) {
	if next > v.pool.Peek() {
		v.pool.Reset(next)
	}
}

// Frame returns tracked frame t. Be careful: this is not copy, but reference to it
func (v *Video) Frame(t int) (labels.Image, error) {
	if t < 0 || t >= len(v.frames) {
		return labels.Image{}, errs.Newf(errs.KindNotFound, t, errs.NoCell, "frame is not tracked yet (video has %d frames)", len(v.frames))
	}
	return v.frames[t], nil
}

// Frames returns all tracked frames
func (v *Video) Frames() []labels.Image {
	out := make([]labels.Image, len(v.frames))
	copy(out, v.frames)
	return out
}

// Regions returns cached region properties of frame t
func (v *Video) Regions(t int) (labels.RegionMap, error) {
	if t < 0 || t >= len(v.regions) {
		return nil, errs.Newf(errs.KindNotFound, t, errs.NoCell, "frame is not tracked yet (video has %d frames)", len(v.frames))
	}
	return v.regions[t], nil
}

// NewIDs returns IDs issued for new objects at frame t. Frame 0 has none
func (v *Video) NewIDs(t int) []int {
	if t < 0 || t >= len(v.newIDs) {
		return nil
	}
	return v.newIDs[t]
}

// Track returns centroid track of a cell
func (v *Video) Track(id int) (*CellTrack, bool) {
	track, ok := v.tracks[id]
	return track, ok
}

// TrackIDs returns sorted IDs of every cell which has a track
func (v *Video) TrackIDs() []int {
	ids := make([]int, 0, len(v.tracks))
	for id := range v.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Next tracks raw label frame against the last tracked frame without modifying the video.
// First frame is passed through unchanged and its IDs seed the pool.
func (v *Video) Next(lab labels.Image) (PairResult, error) {
	t := len(v.frames)
	if err := lab.Validate(); err != nil {
		return PairResult{}, errs.Wrap(err, errs.KindInput, t, errs.NoCell, "malformed label frame")
	}
	if t == 0 {
		next := v.pool.Peek()
		if maxID := lab.MaxID(); maxID >= next {
			next = maxID + 1
		}
		return PairResult{Tracked: lab.Clone(), NewIDs: []int{}, NextFreeID: next}, nil
	}
	prev := v.frames[t-1]
	if !prev.SameShape(lab) {
		return PairResult{}, errs.Input(t, "shape mismatch: previous frame is %dx%d, current frame is %dx%d",
			prev.Height, prev.Width, lab.Height, lab.Width)
	}
	prevRegions := make([]labels.Region, 0, len(v.regions[t-1]))
	for _, id := range v.regions[t-1].IDs() {
		prevRegions = append(prevRegions, v.regions[t-1][id])
	}
	return v.tracker.trackPair(prev, lab, prevRegions, nil, v.pool.Peek())
}

// Commit appends tracked frame produced by Next
func (v *Video) Commit(res PairResult) error {
	t := len(v.frames)
	rm := labels.NewRegionMap(labels.Regions(res.Tracked))
	v.frames = append(v.frames, res.Tracked)
	v.regions = append(v.regions, rm)
	v.newIDs = append(v.newIDs, res.NewIDs)
	v.pool.Observe(res.Tracked.MaxID())
	if res.NextFreeID > v.pool.Peek() {
		v.pool.Reset(res.NextFreeID)
	}
	for _, id := range rm.IDs() {
		region := rm[id]
		track, ok := v.tracks[id]
		if !ok {
			v.tracks[id] = NewCellTrack(region, t)
			continue
		}
		if err := track.Update(region, t); err != nil {
			return errs.Wrap(err, errs.KindInput, t, id, "centroid track update failed")
		}
	}
	return nil
}

// Append tracks and appends raw label frame
func (v *Video) Append(lab labels.Image) (PairResult, error) {
	res, err := v.Next(lab)
	if err != nil {
		return PairResult{}, err
	}
	if err := v.Commit(res); err != nil {
		return PairResult{}, err
	}
	return res, nil
}

// Overwrite replaces tracked frame t and refreshes its region cache. Later frames are not re-tracked
func (v *Video) Overwrite(t int, lab labels.Image) error {
	if t < 0 || t >= len(v.frames) {
		return errs.Newf(errs.KindNotFound, t, errs.NoCell, "frame is not tracked yet (video has %d frames)", len(v.frames))
	}
	if err := lab.Validate(); err != nil {
		return errs.Wrap(err, errs.KindInput, t, errs.NoCell, "malformed label frame")
	}
	if !v.frames[t].SameShape(lab) {
		return errs.Input(t, "shape mismatch: video frames are %dx%d, got %dx%d",
			v.frames[t].Height, v.frames[t].Width, lab.Height, lab.Width)
	}
	v.frames[t] = lab
	v.regions[t] = labels.NewRegionMap(labels.Regions(lab))
	v.pool.Observe(lab.MaxID())
	return nil
}

// EraseFrom erases pixels of ids from every frame >= t. Returns number of erased pixels.
// Erased IDs stay consumed: the pool never issues them again
func (v *Video) EraseFrom(t int, ids ...int) int {
	if t < 0 {
		t = 0
	}
	erased := 0
	for k := t; k < len(v.frames); k++ {
		n := labels.Erase(v.frames[k], ids...)
		if n > 0 {
			v.regions[k] = labels.NewRegionMap(labels.Regions(v.frames[k]))
		}
		erased += n
	}
	for _, id := range ids {
		if track, ok := v.tracks[id]; ok && track.FirstFrame() >= t {
			delete(v.tracks, id)
		}
	}
	return erased
}

// Truncate drops frames >= n. Issued IDs stay consumed
func (v *Video) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(v.frames) {
		return
	}
	v.frames = v.frames[:n]
	v.regions = v.regions[:n]
	v.newIDs = v.newIDs[:n]
	for id, track := range v.tracks {
		if track.FirstFrame() >= n {
			delete(v.tracks, id)
		}
	}
}

// RelabelSequential renumbers IDs of the whole video to 1..K and returns applied old -> new map.
// This breaks ID stability against previously exported frames
func (v *Video) RelabelSequential() map[int]int {
	frames, mapping := labels.RelabelSequential(v.frames)
	v.frames = frames
	for k := range v.frames {
		v.regions[k] = labels.NewRegionMap(labels.Regions(v.frames[k]))
	}
	for k, ids := range v.newIDs {
		remapped := make([]int, 0, len(ids))
		for _, id := range ids {
			if newID, ok := mapping[id]; ok {
				remapped = append(remapped, newID)
			}
		}
		sort.Ints(remapped)
		v.newIDs[k] = remapped
	}
	tracks := make(map[int]*CellTrack, len(v.tracks))
	for id, track := range v.tracks {
		if newID, ok := mapping[id]; ok {
			track.id = newID
			tracks[newID] = track
		}
	}
	v.tracks = tracks
	return mapping
}

// ProgressFunc receives number of processed frames and total number of frames
type ProgressFunc func(done, total int)

// TrackVideo tracks whole label video. Frame 0 is kept as is.
// Cancellation is checked at every frame boundary; frames processed so far are returned with the error
func TrackVideo(ctx context.Context, frames []labels.Image, tracker *FrameTracker, progress ProgressFunc) (*Video, error) {
	if len(frames) == 0 {
		return nil, errs.Input(errs.NoFrame, "empty video")
	}
	video := NewVideo(tracker)
	for t, frame := range frames {
		select {
		case <-ctx.Done():
			return video, errs.Cancelled(t, ctx.Err())
		default:
		}
		if _, err := video.Append(frame); err != nil {
			return video, err
		}
		if progress != nil {
			progress(t+1, len(frames))
		}
	}
	return video, nil
}
