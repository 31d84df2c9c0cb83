package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/LdDl/budtrack/internal/config"
	"github.com/LdDl/budtrack/pipeline"
)

// writeFrame stores label-valued 16-bit TIFF: cell 3 always, cell 8 from frame 1
func writeFrame(t *testing.T, dir string, index int) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, 10, 8))
	for y := 1; y < 4; y++ {
		for x := 1; x < 4; x++ {
			img.SetGray16(x, y, color.Gray16{Y: 3})
			if index > 0 {
				img.SetGray16(x+5, y+3, color.Gray16{Y: 8})
			}
		}
	}
	f, err := os.Create(filepath.Join(dir, "frame_"+string(rune('0'+index))+".tif"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func setup(t *testing.T) (string, string) {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(tmp, "data")
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfgPath := filepath.Join(tmp, "config.json")
	if err := cfg.Save(cfgPath); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	frames := filepath.Join(tmp, "frames")
	if err := os.Mkdir(frames, 0o755); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return cfgPath, frames
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunExportResume(t *testing.T) {
	cfgPath, frames := setup(t)
	writeFrame(t, frames, 0)
	writeFrame(t, frames, 1)

	out, err := execute(t, "--config", cfgPath, "run", frames, "--position", "posA")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var summary pipeline.Summary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("Summary must be JSON: %v\n%s", err, out)
	}
	if summary.Frames != 2 || summary.Analysed != 2 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	out, err = execute(t, "--config", cfgPath, "export", "--position", "posA")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// header, cell 3 at frame 0, cells 3 and 8 at frame 1
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "frame_index,cell_id") {
		t.Errorf("Unexpected export:\n%s", out)
	}

	writeFrame(t, frames, 2)
	out, err = execute(t, "--config", cfgPath, "run", frames, "--position", "posA", "--resume")
	if err != nil {
		t.Fatalf("resume: %v\n%s", err, out)
	}
	summary = pipeline.Summary{}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("Summary must be JSON: %v\n%s", err, out)
	}
	if summary.Frames != 1 || summary.Analysed != 3 {
		t.Errorf("Resumed run must analyse only the new frame, got %+v", summary)
	}
}

func TestRunRejectsMissingDirectory(t *testing.T) {
	cfgPath, frames := setup(t)
	if _, err := execute(t, "--config", cfgPath, "run", filepath.Join(frames, "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
	if _, err := execute(t, "--config", cfgPath, "run"); err == nil {
		t.Error("Expected error for missing argument")
	}
}

func TestConfigAndVersion(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nested", "config.json")
	out, err := execute(t, "--config", cfgPath, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, cfgPath) {
		t.Errorf("Unexpected output %q", out)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("Config must be written: %v", err)
	}
	out, err = execute(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, `"ioa_threshold": 0.4`) {
		t.Errorf("Unexpected config output:\n%s", out)
	}
	out, err = execute(t, "--config", cfgPath, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "identity") || !strings.Contains(out, "otsu") {
		t.Errorf("Segmenters must be listed, got %q", out)
	}
}
