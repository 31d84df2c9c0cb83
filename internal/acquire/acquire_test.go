package acquire

import (
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/image/tiff"
)

func writeTIFF(t *testing.T, path string, value uint16) {
	t.Helper()
	if err := encodeTIFF(path, value); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// encodeTIFF writes 4x3 gradient through a hidden temp file and renames it into place
func encodeTIFF(path string, value uint16) error {
	img := image.NewGray16(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetGray16(x, y, color.Gray16{Y: value + uint16(x)})
		}
	}
	tmp := filepath.Join(filepath.Dir(path), ".partial")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func TestReadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t000.tif")
	writeTIFF(t, path, 1000)
	img, err := ReadImage(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if img.Height != 3 || img.Width != 4 || img.Depth != 1 {
		t.Fatalf("Unexpected shape %dx%dx%d", img.Depth, img.Height, img.Width)
	}
	if img.At(0, 2, 3) != 1003 {
		t.Errorf("16-bit range must be kept, got %v", img.At(0, 2, 3))
	}
	bad := filepath.Join(t.TempDir(), "bad.tif")
	if err := os.WriteFile(bad, []byte("nope"), 0o644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := ReadImage(bad); err == nil {
		t.Error("Expected decode error")
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "t001.tif"), 20)
	writeTIFF(t, filepath.Join(dir, "t000.tif"), 10)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	src, err := NewDir(dir, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Expected 2 frames, got %d", src.Len())
	}
	ctx := context.Background()
	for i, want := range []float32{10, 20} {
		frame, err := src.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if frame.Index != i || frame.Image.At(0, 0, 0) != want {
			t.Errorf("Frame %d: index %d value %v", i, frame.Index, frame.Image.At(0, 0, 0))
		}
	}
	if _, err := src.Next(ctx); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, filepath.Join(dir, "t000.tif"), 10)
	w, err := NewWatch(dir, 0, WithSettle(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer w.Close()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = encodeTIFF(filepath.Join(dir, "t001.tif"), 20)
		_ = encodeTIFF(filepath.Join(dir, "t002.tif"), 30)
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, DoneMarker), nil, 0o644)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	values := make([]float32, 0, 3)
	for {
		frame, err := w.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if frame.Index != len(values) {
			t.Errorf("Expected index %d, got %d", len(values), frame.Index)
		}
		values = append(values, frame.Image.At(0, 0, 0))
	}
	if len(values) != 3 || values[0] != 10 || values[1] != 20 || values[2] != 30 {
		t.Errorf("Unexpected frames %v", values)
	}
}

func TestWatchCancel(t *testing.T) {
	w, err := NewWatch(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer w.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := w.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("Expected deadline error, got %v", err)
	}
}
