package lineage

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/errs"
)

// CSVHeader is column layout of persisted lineage tables
var CSVHeader = []string{
	"frame_index",
	"cell_id",
	"cycle_stage",
	"cycles_count",
	"relative_id",
	"relationship",
	"emergence_frame",
	"division_frame",
	"discard",
}

// WriteCSV writes every set frame of timeline, rows sorted by frame then by cell.
// A set frame without cells is written as a single row with cell_id 0 and empty fields
func WriteCSV(w io.Writer, tl Timeline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return errors.Wrap(err, "Can't write lineage header")
	}
	for t, tbl := range tl {
		if tbl == nil {
			continue
		}
		if err := writeTable(writer, t, tbl); err != nil {
			return err
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "Can't flush lineage table")
}

// WriteFrameCSV writes lineage table of a single frame
func WriteFrameCSV(w io.Writer, t int, tbl Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return errors.Wrap(err, "Can't write lineage header")
	}
	if tbl == nil {
		tbl = make(Table)
	}
	if err := writeTable(writer, t, tbl); err != nil {
		return err
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "Can't flush lineage table")
}

func writeTable(writer *csv.Writer, t int, tbl Table) error {
	frame := strconv.Itoa(t)
	if len(tbl) == 0 {
		if err := writer.Write([]string{frame, "0", "", "", "", "", "", "", ""}); err != nil {
			return errors.Wrapf(err, "Can't write empty frame %d", t)
		}
		return nil
	}
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		row := []string{
			frame,
			strconv.Itoa(id),
			rec.Stage.String(),
			strconv.Itoa(rec.CyclesCount),
			strconv.Itoa(rec.RelativeID),
			rec.Relationship.String(),
			strconv.Itoa(rec.EmergenceFrame),
			strconv.Itoa(rec.DivisionFrame),
			strconv.FormatBool(rec.Discard),
		}
		if err := writer.Write(row); err != nil {
			return errors.Wrapf(err, "Can't write record of cell %d at frame %d", id, t)
		}
	}
	return nil
}

// ReadCSV reads lineage tables written by WriteCSV or WriteFrameCSV.
// Frames missing in the input are unset in the returned timeline
func ReadCSV(r io.Reader) (Timeline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(CSVHeader)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return Timeline{}, nil
		}
		return nil, errors.Wrap(err, "Can't read lineage header")
	}
	for i, name := range CSVHeader {
		if header[i] != name {
			return nil, errs.Input(errs.NoFrame, "unexpected column '%s' at position %d, expected '%s'", header[i], i, name)
		}
	}
	tl := make(Timeline, 0)
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "Can't read lineage row %d", line)
		}
		t, id, rec, err := parseRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "Bad lineage row %d", line)
		}
		for len(tl) <= t {
			tl = append(tl, nil)
		}
		if tl[t] == nil {
			tl[t] = make(Table)
		}
		if id == 0 {
			continue
		}
		if _, dup := tl[t][id]; dup {
			return nil, errs.Input(t, "duplicate record of cell %d at line %d", id, line)
		}
		tl[t][id] = rec
	}
	return tl, nil
}

func parseRow(row []string) (int, int, Record, error) {
	ints := make([]int, 0, 6)
	for _, col := range []int{0, 1} {
		v, err := strconv.Atoi(row[col])
		if err != nil {
			return 0, 0, Record{}, errs.Input(errs.NoFrame, "column %s: %v", CSVHeader[col], err)
		}
		ints = append(ints, v)
	}
	t, id := ints[0], ints[1]
	if t < 0 || id < 0 {
		return 0, 0, Record{}, errs.Input(t, "negative frame or cell id")
	}
	if id == 0 {
		return t, 0, Record{}, nil
	}
	for _, col := range []int{3, 4, 6, 7} {
		v, err := strconv.Atoi(row[col])
		if err != nil {
			return 0, 0, Record{}, errs.Input(t, "column %s: %v", CSVHeader[col], err)
		}
		ints = append(ints, v)
	}
	stage, err := ParseStage(row[2])
	if err != nil {
		return 0, 0, Record{}, errs.Input(t, "%v", err)
	}
	relationship, err := ParseRelationship(row[5])
	if err != nil {
		return 0, 0, Record{}, errs.Input(t, "%v", err)
	}
	discard, err := strconv.ParseBool(row[8])
	if err != nil {
		return 0, 0, Record{}, errs.Input(t, "column discard: %v", err)
	}
	return t, id, Record{
		Stage:          stage,
		CyclesCount:    ints[2],
		RelativeID:     ints[3],
		Relationship:   relationship,
		EmergenceFrame: ints[4],
		DivisionFrame:  ints[5],
		Discard:        discard,
	}, nil
}
