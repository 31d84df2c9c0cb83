// Package acquire turns microscope acquisition folders into frame sources.
// Frames are single channel TIFF or PNG files served in file name order.
package acquire

import (
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/tiff"

	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/segment"
)

// DoneMarker is created by the acquisition software when no more frames follow
const DoneMarker = "acquisition.done"

var frameExts = map[string]struct{}{
	".tif":  {},
	".tiff": {},
	".png":  {},
}

// IsFrameFile reports whether file name has a supported frame extension
func IsFrameFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := frameExts[strings.ToLower(filepath.Ext(base))]
	return ok
}

// ListFrames returns frame files of directory sorted by name
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read directory %s", dir)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsFrameFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ReadImage decodes file into intensity image. 16-bit samples keep their range
func ReadImage(path string) (segment.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return segment.Image{}, errors.Wrapf(err, "can't open %s", path)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return segment.Image{}, errs.Wrap(err, errs.KindInput, errs.NoFrame, errs.NoCell, "can't decode "+filepath.Base(path))
	}
	return FromImage(img), nil
}

// FromImage converts decoded image to intensities. Colour images are reduced to luminance
func FromImage(img image.Image) segment.Image {
	bounds := img.Bounds()
	out := segment.NewImage(1, bounds.Dy(), bounds.Dx())
	i := 0
	switch src := img.(type) {
	case *image.Gray16:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Pix[i] = float32(src.Gray16At(x, y).Y)
				i++
			}
		}
	case *image.Gray:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Pix[i] = float32(src.GrayAt(x, y).Y)
				i++
			}
		}
	default:
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				out.Pix[i] = float32(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
				i++
			}
		}
	}
	return out
}
