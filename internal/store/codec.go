// Package store persists tracked label frames and lineage tables of positions.
//
// Blob layout of a position:
//
//	<position>/labels/<frame:06d>.lab   zlib compressed label frame
//	<position>/lineage/<frame:06d>.csv  lineage table of the frame
//	<position>/lineage.csv              whole timeline export
//	<position>/state.json               next free CellID
package store

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/labels"
)

var labelMagic = [4]byte{'B', 'T', 'L', 'B'}

const labelCodecVersion uint16 = 1

// maxLabelPixels bounds allocation when decoding untrusted headers
const maxLabelPixels = 1 << 28

type labelHeader struct {
	Magic   [4]byte
	Version uint16
	_       uint16
	Height  uint32
	Width   uint32
}

// EncodeLabels writes label frame losslessly: header and little-endian int32 pixels, zlib compressed
func EncodeLabels(w io.Writer, lab labels.Image) error {
	if err := lab.Validate(); err != nil {
		return err
	}
	zw := zlib.NewWriter(w)
	bw := bufio.NewWriter(zw)
	header := labelHeader{
		Magic:   labelMagic,
		Version: labelCodecVersion,
		Height:  uint32(lab.Height),
		Width:   uint32(lab.Width),
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "can't write label header")
	}
	if err := binary.Write(bw, binary.LittleEndian, lab.Pix); err != nil {
		return errors.Wrap(err, "can't write label pixels")
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "can't flush label frame")
	}
	return errors.Wrap(zw.Close(), "can't close label stream")
}

// DecodeLabels reads label frame written by EncodeLabels
func DecodeLabels(r io.Reader) (labels.Image, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return labels.Image{}, errors.Wrap(err, "can't open label stream")
	}
	defer zr.Close()
	br := bufio.NewReader(zr)
	var header labelHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return labels.Image{}, errors.Wrap(err, "can't read label header")
	}
	if header.Magic != labelMagic {
		return labels.Image{}, errors.Errorf("not a label frame: magic %q", header.Magic[:])
	}
	if header.Version != labelCodecVersion {
		return labels.Image{}, errors.Errorf("unsupported label frame version %d", header.Version)
	}
	n := uint64(header.Height) * uint64(header.Width)
	if n > maxLabelPixels {
		return labels.Image{}, errors.Errorf("label frame %dx%d is too large", header.Height, header.Width)
	}
	lab := labels.New(int(header.Height), int(header.Width))
	if err := binary.Read(br, binary.LittleEndian, lab.Pix); err != nil {
		return labels.Image{}, errors.Wrap(err, "can't read label pixels")
	}
	if err := lab.Validate(); err != nil {
		return labels.Image{}, err
	}
	return lab, nil
}
