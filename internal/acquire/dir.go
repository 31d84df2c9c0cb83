package acquire

import (
	"context"
	"io"
	"path/filepath"

	"github.com/LdDl/budtrack/pipeline"
)

// Dir serves frame files present in a directory when it was opened
type Dir struct {
	files []string
	start int
	pos   int
}

// NewDir lists frames of directory. Frame indices start at start
func NewDir(dir string, start int) (*Dir, error) {
	files, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	return &Dir{files: files, start: start}, nil
}

// Files returns frame files in serving order
func (d *Dir) Files() []string {
	return d.files
}

// Next decodes next frame file
func (d *Dir) Next(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if d.pos >= len(d.files) {
		return pipeline.Frame{}, io.EOF
	}
	path := d.files[d.pos]
	img, err := ReadImage(path)
	if err != nil {
		return pipeline.Frame{}, err
	}
	frame := pipeline.Frame{
		Index: d.start + d.pos,
		Image: img,
		Name:  filepath.Base(path),
	}
	d.pos++
	return frame, nil
}

// Len returns total number of frames
func (d *Dir) Len() int {
	return d.start + len(d.files)
}
