package pipeline

import (
	"context"
	"io"

	"github.com/LdDl/budtrack/segment"
	"github.com/LdDl/budtrack/tracking"
)

// Frame is a single intensity frame of a position
type Frame struct {
	Index int
	Image segment.Image
	// Shift is stage drift correction of the frame. It is carried along but never applied
	Shift tracking.Shift
	// Name identifies the frame origin (e.g. file name)
	Name string
}

// FrameSource yields frames in frame order. Next returns io.EOF after the last frame
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Sized is implemented by sources which know number of frames in advance
type Sized interface {
	Len() int
}

// SliceSource serves in-memory frames
type SliceSource struct {
	images []segment.Image
	shifts []tracking.Shift
	start  int
	pos    int
}

// NewSliceSource creates source of images numbered from start
func NewSliceSource(start int, images ...segment.Image) *SliceSource {
	return &SliceSource{
		images: images,
		start:  start,
	}
}

// WithShifts attaches per frame shifts
func (src *SliceSource) WithShifts(shifts []tracking.Shift) *SliceSource {
	src.shifts = shifts
	return src
}

// Next returns next frame
func (src *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if src.pos >= len(src.images) {
		return Frame{}, io.EOF
	}
	frame := Frame{
		Index: src.start + src.pos,
		Image: src.images[src.pos],
	}
	if src.pos < len(src.shifts) {
		frame.Shift = src.shifts[src.pos]
	}
	src.pos++
	return frame, nil
}

// Len returns total number of frames including already served ones
func (src *SliceSource) Len() int {
	return src.start + len(src.images)
}
