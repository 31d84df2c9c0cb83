// Package labeltest generates random label videos for tests of tracking and lineage
package labeltest

import (
	"math/rand"

	"github.com/LdDl/budtrack/labels"
)

// VideoOptions shapes generated videos
type VideoOptions struct {
	Height   int
	Width    int
	Frames   int
	MaxCells int
	// Shuffle draws fresh labels on every frame like an untracked segmenter
	Shuffle bool
}

// DefaultVideoOptions returns small videos of up to 8 cells
func DefaultVideoOptions() VideoOptions {
	return VideoOptions{
		Height:   32,
		Width:    32,
		Frames:   6,
		MaxCells: 8,
	}
}

type box struct {
	y, x, h, w int
	label      int
}

// RandomVideo returns frames of rectangular cells which drift, grow, vanish, bud off neighbours
// and appear at random places. Cells drawn later cover earlier ones. Every frame has at least one cell
func RandomVideo(rng *rand.Rand, opts VideoOptions) []labels.Image {
	g := generator{rng: rng, opts: opts, nextLabel: 1 + rng.Intn(20)}
	if g.opts.MaxCells < 1 {
		g.opts.MaxCells = 1
	}
	initial := 1 + rng.Intn(3)
	for i := 0; i < initial && len(g.cells) < g.opts.MaxCells; i++ {
		g.spawn()
	}
	frames := make([]labels.Image, 0, opts.Frames)
	for t := 0; t < opts.Frames; t++ {
		if t > 0 {
			g.evolve()
		}
		frames = append(frames, g.render())
	}
	return frames
}

type generator struct {
	rng       *rand.Rand
	opts      VideoOptions
	cells     []box
	nextLabel int
}

func (g *generator) label() int {
	id := g.nextLabel
	g.nextLabel += 1 + g.rng.Intn(3)
	return id
}

func (g *generator) clamp(b box) box {
	b.h = min(max(b.h, 2), g.opts.Height)
	b.w = min(max(b.w, 2), g.opts.Width)
	b.y = min(max(b.y, 0), g.opts.Height-b.h)
	b.x = min(max(b.x, 0), g.opts.Width-b.w)
	return b
}

func (g *generator) spawn() {
	b := box{
		h:     3 + g.rng.Intn(4),
		w:     3 + g.rng.Intn(4),
		label: g.label(),
	}
	b.y = g.rng.Intn(g.opts.Height)
	b.x = g.rng.Intn(g.opts.Width)
	g.cells = append(g.cells, g.clamp(b))
}

func (g *generator) evolve() {
	next := make([]box, 0, len(g.cells)+2)
	for _, b := range g.cells {
		r := g.rng.Float64()
		if r < 0.08 {
			continue
		}
		b.y += g.rng.Intn(3) - 1
		b.x += g.rng.Intn(3) - 1
		b.h += g.rng.Intn(3) - 1
		b.w += g.rng.Intn(3) - 1
		b.h = min(b.h, 8)
		b.w = min(b.w, 8)
		b = g.clamp(b)
		next = append(next, b)
		if r < 0.2 && len(next) < g.opts.MaxCells {
			bud := box{h: 2 + g.rng.Intn(2), w: 2 + g.rng.Intn(2), label: g.label()}
			if g.rng.Intn(2) == 0 {
				bud.y, bud.x = b.y+b.h, b.x+g.rng.Intn(b.w)
			} else {
				bud.y, bud.x = b.y+g.rng.Intn(b.h), b.x+b.w
			}
			next = append(next, g.clamp(bud))
		}
	}
	if len(next) > g.opts.MaxCells {
		next = next[:g.opts.MaxCells]
	}
	g.cells = next
	if len(g.cells) == 0 || (len(g.cells) < g.opts.MaxCells && g.rng.Float64() < 0.1) {
		g.spawn()
	}
	if g.opts.Shuffle {
		for i := range g.cells {
			g.cells[i].label = g.label()
		}
	}
}

func (g *generator) render() labels.Image {
	img := labels.New(g.opts.Height, g.opts.Width)
	for _, b := range g.cells {
		for y := b.y; y < b.y+b.h; y++ {
			for x := b.x; x < b.x+b.w; x++ {
				img.Set(y, x, b.label)
			}
		}
	}
	return img
}
