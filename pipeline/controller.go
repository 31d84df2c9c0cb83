// Package pipeline drives a position through segmentation, tracking and lineage analysis frame by frame,
// and routes lineage edits to both the tracked label video and the lineage session.
//
// One worker processes frames strictly in frame order. Cancellation is checked at every frame boundary:
// a partially processed frame is discarded, already persisted frames stay complete.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/internal/metrics"
	"github.com/LdDl/budtrack/labels"
	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/segment"
	"github.com/LdDl/budtrack/tracking"
)

// Options configures controller
type Options struct {
	// Tracker matches objects of consecutive frames. Nil means default greedy tracker with 0.4 threshold
	Tracker *tracking.FrameTracker
	// Lineage tunes bud assignment and edit propagation
	Lineage lineage.Options
	// MinObjectSize erases segmented objects with fewer pixels before tracking
	MinObjectSize int
	// SegmenterRetries is number of extra segmenter calls after a failure
	SegmenterRetries int
	// PersistPerFrame stores every frame right after it is analysed. Otherwise everything is stored at the end of a run
	PersistPerFrame bool
	// NormaliseIDsAtEnd relabels the whole video and lineage to 1..K after the last frame
	NormaliseIDsAtEnd bool
	// Seed is lineage table of the first frame. Nil means every cell of the first frame gets the default record
	Seed lineage.Table
}

// DefaultOptions returns per frame persistence with default tracker and lineage options
func DefaultOptions() Options {
	return Options{
		Tracker:         tracking.NewDefaultFrameTracker(),
		Lineage:         lineage.DefaultOptions(),
		PersistPerFrame: true,
	}
}

// Progress is sent after every analysed frame
type Progress struct {
	RunID    string         `json:"run_id"`
	Frame    int            `json:"frame_index"`
	Total    int            `json:"total"`
	Cells    int            `json:"cells"`
	NewIDs   []int          `json:"new_ids"`
	Warnings []errs.Warning `json:"warnings"`
	Elapsed  time.Duration  `json:"elapsed_ns"`
}

// Summary describes finished (or stopped) run
type Summary struct {
	RunID string `json:"run_id"`
	// Frames is number of frames analysed during the run
	Frames int `json:"frames"`
	// Analysed is number of frames analysed in total
	Analysed int            `json:"analysed"`
	Warnings []errs.Warning `json:"warnings"`
	// Mapping is old -> new CellID map applied by ID normalisation
	Mapping  map[int]int   `json:"mapping,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Controller owns tracked label video and lineage session of one position.
// Frame processing and edits are serialised: an edit never interleaves with a frame being analysed
type Controller struct {
	mu        sync.Mutex
	running   bool
	opts      Options
	segmenter segment.Segmenter
	persister Persister
	video     *tracking.Video
	session   *lineage.Session
	logger    zerolog.Logger
	metrics   *metrics.Pipeline
}

// Option customises controller
type Option func(*Controller)

// WithPersister sets storage of analysed frames
func WithPersister(p Persister) Option {
	return func(c *Controller) {
		c.persister = p
	}
}

// WithLogger sets logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With().Str("component", "pipeline").Logger()
	}
}

// WithMetrics sets prometheus collectors
func WithMetrics(m *metrics.Pipeline) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// New creates controller of empty position
func New(segmenter segment.Segmenter, opts Options, options ...Option) *Controller {
	if opts.Tracker == nil {
		opts.Tracker = tracking.NewDefaultFrameTracker()
	}
	c := &Controller{
		opts:      opts,
		segmenter: segmenter,
		video:     tracking.NewVideo(opts.Tracker),
		session:   lineage.NewSession(opts.Lineage),
		logger:    zerolog.Nop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// SessionID returns ID of the lineage session
func (c *Controller) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.GetID()
}

// Len returns number of analysed frames
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video.Len()
}

// Frame returns copy of tracked label frame t
func (c *Controller) Frame(t int) (labels.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lab, err := c.video.Frame(t)
	if err != nil {
		return labels.Image{}, err
	}
	return lab.Clone(), nil
}

// NextFreeID returns CellID the position issues next
func (c *Controller) NextFreeID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video.NextFreeID()
}

// NewIDs returns IDs issued for new objects at frame t
func (c *Controller) NewIDs(t int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.video.NewIDs(t)
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// Table returns lineage table of frame t
func (c *Controller) Table(t int) (lineage.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Rewind(t)
}

// Timeline returns copy of every lineage table
func (c *Controller) Timeline() lineage.Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Timeline()
}

// Track returns smoothed centroid track of a cell
func (c *Controller) Track(id int) (TrackSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	track, ok := c.video.Track(id)
	if !ok {
		return TrackSnapshot{}, false
	}
	return snapshotTrack(track), true
}

// Restore replaces analysed state with tracked frames and lineage tables read from storage.
// Frames are taken as already tracked. nextFreeID is the stored pool state; IDs below it are never issued again
// even when no stored frame holds them anymore. Zero means unknown
func (c *Controller) Restore(frames []labels.Image, tl lineage.Timeline, nextFreeID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errs.New(errs.KindRejected, errs.NoFrame, errs.NoCell, "run in progress")
	}
	if len(frames) != len(tl) {
		return errs.Input(errs.NoFrame, "%d label frames but %d lineage tables", len(frames), len(tl))
	}
	video := tracking.NewVideo(c.opts.Tracker)
	for t, lab := range frames {
		if err := lab.Validate(); err != nil {
			return errs.Wrap(err, errs.KindInput, t, errs.NoCell, "malformed label frame")
		}
		if !tl.IsSet(t) {
			return errs.Input(t, "lineage table is missing")
		}
		if err := checkKeys(errs.KindInput, t, lab, tl[t]); err != nil {
			return err
		}
		newIDs := []int{}
		if t > 0 {
			prev, _ := video.Frame(t - 1)
			if !prev.SameShape(lab) {
				return errs.Input(t, "shape mismatch: previous frame is %dx%d, current frame is %dx%d", prev.Height, prev.Width, lab.Height, lab.Width)
			}
			for _, id := range lab.IDs() {
				if !prev.Contains(id) {
					newIDs = append(newIDs, id)
				}
			}
		}
		if err := video.Commit(tracking.PairResult{Tracked: lab.Clone(), NewIDs: newIDs}); err != nil {
			return err
		}
	}
	video.ReserveIDs(nextFreeID)
	session := lineage.NewSession(c.opts.Lineage)
	if err := session.Load(tl); err != nil {
		return err
	}
	c.video = video
	c.session = session
	return nil
}

// Run analyses frames of src until it is exhausted, the context is done or a frame fails.
// Frames with index below the number of analysed frames are skipped, so a restored position can be resumed.
// Progress messages are sent to progress (when not nil) after every analysed frame
func (c *Controller) Run(ctx context.Context, src FrameSource, progress chan<- Progress) (Summary, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Summary{}, errs.New(errs.KindRejected, errs.NoFrame, errs.NoCell, "run in progress")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	start := time.Now()
	summary := Summary{
		RunID:    uuid.New().String(),
		Warnings: []errs.Warning{},
	}
	logger := c.logger.With().Str("run_id", summary.RunID).Logger()
	total := -1
	if sized, ok := src.(Sized); ok {
		total = sized.Len()
	}
	logger.Info().Int("total", total).Int("analysed", c.Len()).Msg("run started")

	err := c.run(ctx, src, progress, total, &summary, logger)
	switch {
	case err == nil:
		err = c.finish(ctx, &summary)
	case errs.Is(err, errs.KindCancelled) && !c.opts.PersistPerFrame:
		// Frames analysed before cancellation are still stored
		if flushErr := c.persistAll(context.WithoutCancel(ctx)); flushErr != nil {
			logger.Error().Err(flushErr).Msg("can't persist analysed frames")
		}
	}
	summary.Analysed = c.Len()
	summary.Duration = time.Since(start)
	c.metrics.ObserveRun(err)
	if err != nil {
		logger.Error().Err(err).Int("frames", summary.Frames).Msg("run stopped")
		return summary, err
	}
	logger.Info().Int("frames", summary.Frames).Int("warnings", len(summary.Warnings)).Dur("duration", summary.Duration).Msg("run finished")
	return summary, nil
}

func (c *Controller) run(ctx context.Context, src FrameSource, progress chan<- Progress, total int, summary *Summary, logger zerolog.Logger) error {
	for {
		t := c.Len()
		if err := ctx.Err(); err != nil {
			return errs.Cancelled(t, err)
		}
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return errs.Cancelled(t, ctx.Err())
			}
			return errs.Wrap(err, errs.KindInput, t, errs.NoCell, "can't read frame")
		}
		if frame.Index < t {
			logger.Debug().Int("frame", frame.Index).Msg("frame is analysed already, skip")
			continue
		}
		if frame.Index > t {
			return errs.Input(t, "frame source yielded frame %d while frame %d is expected", frame.Index, t)
		}
		p, err := c.processFrame(ctx, frame, logger)
		if err != nil {
			return err
		}
		summary.Frames++
		summary.Warnings = append(summary.Warnings, p.Warnings...)
		if progress == nil {
			continue
		}
		p.RunID = summary.RunID
		p.Total = total
		select {
		case progress <- p:
		case <-ctx.Done():
			return errs.Cancelled(t+1, ctx.Err())
		}
	}
}

// processFrame segments, tracks and analyses frame. On failure the video and the lineage keep their previous state
func (c *Controller) processFrame(ctx context.Context, frame Frame, logger zerolog.Logger) (Progress, error) {
	start := time.Now()
	t := frame.Index
	lab, err := c.segment(ctx, frame, logger)
	if err != nil {
		return Progress{}, err
	}
	if c.opts.MinObjectSize > 0 {
		if removed := labels.RemoveSmallObjects(lab, c.opts.MinObjectSize); len(removed) > 0 {
			logger.Debug().Int("frame", t).Ints("ids", removed).Msg("small objects removed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pair, err := c.video.Next(lab)
	if err != nil {
		return Progress{}, err
	}
	res, err := c.advance(t, pair.Tracked)
	if err != nil {
		return Progress{}, err
	}
	if err := c.video.Commit(pair); err != nil {
		c.session.Truncate(t)
		return Progress{}, err
	}
	if c.opts.PersistPerFrame && c.persister != nil {
		// Analysed frame is stored completely even if cancellation arrives meanwhile
		persistCtx := context.WithoutCancel(ctx)
		err := c.persister.SaveFrame(persistCtx, t, pair.Tracked, res.Table)
		if err == nil {
			err = c.persister.SaveNextFreeID(persistCtx, c.video.NextFreeID())
		}
		if err != nil {
			c.video.Truncate(t)
			c.session.Truncate(t)
			return Progress{}, errors.Wrapf(err, "can't persist frame %d", t)
		}
	}
	elapsed := time.Since(start)
	c.metrics.ObserveFrame(elapsed, len(res.Table), len(pair.NewIDs), len(res.Warnings))
	for _, w := range res.Warnings {
		logger.Warn().Stringer("kind", w.Kind).Int("frame", w.Frame).Int("cell_id", w.CellID).Msg(w.Reason)
	}
	logger.Debug().Int("frame", t).Int("cells", len(res.Table)).Ints("new_ids", pair.NewIDs).Dur("elapsed", elapsed).Msg("frame analysed")
	return Progress{
		Frame:    t,
		Cells:    len(res.Table),
		NewIDs:   pair.NewIDs,
		Warnings: res.Warnings,
		Elapsed:  elapsed,
	}, nil
}

// segment calls segmenter with retries
func (c *Controller) segment(ctx context.Context, frame Frame, logger zerolog.Logger) (labels.Image, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.SegmenterRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return labels.Image{}, errs.Cancelled(frame.Index, err)
		}
		lab, err := c.segmenter.Segment(ctx, frame.Image)
		if err == nil {
			return lab, nil
		}
		if ctx.Err() != nil {
			return labels.Image{}, errs.Cancelled(frame.Index, ctx.Err())
		}
		lastErr = err
		c.metrics.SegmenterFailed()
		logger.Warn().Err(err).Int("frame", frame.Index).Int("attempt", attempt+1).Str("segmenter", c.segmenter.Name()).Msg("segmentation failed")
	}
	return labels.Image{}, errs.Wrap(lastErr, errs.KindSegmenter, frame.Index, errs.NoCell, "segmenter "+c.segmenter.Name()+" failed")
}

// advance creates lineage table of tracked frame t. Caller holds the lock
func (c *Controller) advance(t int, lab labels.Image) (lineage.Result, error) {
	if t == 0 {
		if c.opts.Seed != nil {
			if err := checkKeys(errs.KindInput, 0, lab, c.opts.Seed); err != nil {
				return lineage.Result{}, err
			}
			return c.session.Seed(c.opts.Seed, false)
		}
		return c.session.SeedDefault(lab.IDs(), false)
	}
	res, err := c.session.Advance(t, lab)
	if err != nil {
		return lineage.Result{}, err
	}
	if err := checkKeys(errs.KindInvariant, t, lab, res.Table); err != nil {
		c.session.Truncate(t)
		return lineage.Result{}, err
	}
	return res, nil
}

// finish applies end of run steps
func (c *Controller) finish(ctx context.Context, summary *Summary) error {
	if c.opts.NormaliseIDsAtEnd {
		mapping, err := c.NormaliseIDs(ctx)
		if err != nil {
			return err
		}
		summary.Mapping = mapping
		return nil
	}
	if !c.opts.PersistPerFrame {
		return c.persistAll(ctx)
	}
	return nil
}

// NormaliseIDs relabels the whole video and lineage to consecutive CellIDs 1..K keeping their relative order
// and stores everything again. Returns old -> new map
func (c *Controller) NormaliseIDs(ctx context.Context) (map[int]int, error) {
	c.mu.Lock()
	mapping := labels.SequentialMapping(c.video.Frames())
	if err := c.session.Relabel(mapping); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.video.RelabelSequential()
	c.mu.Unlock()
	c.logger.Info().Int("cells", len(mapping)).Msg("CellIDs normalised")
	if err := c.persistAll(ctx); err != nil {
		return nil, err
	}
	return mapping, nil
}

// persistAll stores every analysed frame and the whole lineage
func (c *Controller) persistAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.persister == nil {
		return nil
	}
	frames := make([]int, c.video.Len())
	for t := range frames {
		frames[t] = t
	}
	if err := c.persistFrames(ctx, frames); err != nil {
		return err
	}
	if err := c.persister.SaveNextFreeID(ctx, c.video.NextFreeID()); err != nil {
		return errors.Wrap(err, "can't persist next free ID")
	}
	return errors.Wrap(c.persister.SaveLineage(ctx, c.session.Timeline()), "can't persist lineage")
}

// persistFrames stores label frames and lineage tables of given frames. Caller holds the lock
func (c *Controller) persistFrames(ctx context.Context, frames []int) error {
	if c.persister == nil {
		return nil
	}
	for _, t := range frames {
		lab, err := c.video.Frame(t)
		if err != nil {
			return err
		}
		tbl, err := c.session.Rewind(t)
		if err != nil {
			return err
		}
		if err := c.persister.SaveFrame(ctx, t, lab, tbl); err != nil {
			return errors.Wrapf(err, "can't persist frame %d", t)
		}
	}
	return nil
}

// checkKeys verifies that lineage table holds exactly the cells of the label frame
func checkKeys(kind errs.Kind, t int, lab labels.Image, tbl lineage.Table) error {
	present := lab.IDSet()
	for _, id := range tbl.IDs() {
		if _, ok := present[id]; !ok {
			return errs.New(kind, t, id, "cell is in lineage table but not in label frame")
		}
	}
	for _, id := range lab.IDs() {
		if _, ok := tbl[id]; !ok {
			return errs.New(kind, t, id, "cell is in label frame but not in lineage table")
		}
	}
	return nil
}
