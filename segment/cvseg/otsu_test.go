package cvseg

import (
	"context"
	"testing"

	"github.com/LdDl/budtrack/segment"
)

func TestOtsuTwoCells(t *testing.T) {
	img := segment.NewImage(1, 32, 32)
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			img.Set(0, y, x, 1000)
		}
	}
	for y := 18; y < 28; y++ {
		for x := 16; x < 26; x++ {
			img.Set(0, y, x, 900)
		}
	}
	seg := NewOtsu()
	seg.UseCLAHE = false
	seg.BlurKernel = 0
	lab, err := seg.Segment(context.Background(), img)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if lab.Height != 32 || lab.Width != 32 {
		t.Fatalf("Wrong shape %dx%d", lab.Height, lab.Width)
	}
	ids := lab.IDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 cells, got %v", ids)
	}
	if lab.At(8, 8) == lab.At(20, 20) || lab.At(8, 8) == 0 || lab.At(20, 20) == 0 {
		t.Errorf("Cells must get distinct labels: %d and %d", lab.At(8, 8), lab.At(20, 20))
	}
	if lab.At(0, 0) != 0 {
		t.Errorf("Background must stay 0, got %d", lab.At(0, 0))
	}
}

func TestOtsuRegistered(t *testing.T) {
	seg, err := segment.New(OtsuName)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if seg.Name() != OtsuName {
		t.Errorf("Expected %s, got %s", OtsuName, seg.Name())
	}
}
