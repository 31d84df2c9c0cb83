package server

import (
	"github.com/LdDl/budtrack/errs"
	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/pipeline"
)

// Event is a websocket message
type Event struct {
	// Type is one of "progress", "finished"
	Type     string             `json:"type"`
	Progress *pipeline.Progress `json:"progress,omitempty"`
	Summary  *pipeline.Summary  `json:"summary,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// RunRequest asks to analyse frames of a directory
type RunRequest struct {
	Dir string `json:"dir"`
	// Watch keeps waiting for new frames until the acquisition is marked done
	Watch bool `json:"watch"`
}

// RunStatus describes current or last run
type RunStatus struct {
	Running bool              `json:"running"`
	Summary *pipeline.Summary `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// SessionInfo describes the position held by the server
type SessionInfo struct {
	SessionID string `json:"session_id"`
	Frames    int    `json:"frames"`
	Running   bool   `json:"running"`
}

// FrameInfo describes an analysed frame
type FrameInfo struct {
	Frame   int   `json:"frame_index"`
	Height  int   `json:"height"`
	Width   int   `json:"width"`
	CellIDs []int `json:"cell_ids"`
	NewIDs  []int `json:"new_ids"`
}

// RecordJSON is a lineage record of one cell
type RecordJSON struct {
	CellID         int    `json:"cell_id"`
	Stage          string `json:"cycle_stage"`
	CyclesCount    int    `json:"cycles_count"`
	RelativeID     int    `json:"relative_id"`
	Relationship   string `json:"relationship"`
	EmergenceFrame int    `json:"emergence_frame"`
	DivisionFrame  int    `json:"division_frame"`
	Discard        bool   `json:"discard"`
}

func recordsJSON(tbl lineage.Table) []RecordJSON {
	out := make([]RecordJSON, 0, len(tbl))
	for _, id := range tbl.IDs() {
		rec := tbl[id]
		out = append(out, RecordJSON{
			CellID:         id,
			Stage:          rec.Stage.String(),
			CyclesCount:    rec.CyclesCount,
			RelativeID:     rec.RelativeID,
			Relationship:   rec.Relationship.String(),
			EmergenceFrame: rec.EmergenceFrame,
			DivisionFrame:  rec.DivisionFrame,
			Discard:        rec.Discard,
		})
	}
	return out
}

func tableFromJSON(records []RecordJSON) (lineage.Table, error) {
	tbl := make(lineage.Table, len(records))
	for _, r := range records {
		if r.CellID <= 0 {
			return nil, errs.Input(0, "cell id %d must be positive", r.CellID)
		}
		if _, dup := tbl[r.CellID]; dup {
			return nil, errs.Input(0, "duplicate record of cell %d", r.CellID)
		}
		stage, err := lineage.ParseStage(r.Stage)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindInput, 0, r.CellID, "bad cycle stage")
		}
		rel, err := lineage.ParseRelationship(r.Relationship)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindInput, 0, r.CellID, "bad relationship")
		}
		tbl[r.CellID] = lineage.Record{
			Stage:          stage,
			CyclesCount:    r.CyclesCount,
			RelativeID:     r.RelativeID,
			Relationship:   rel,
			EmergenceFrame: r.EmergenceFrame,
			DivisionFrame:  r.DivisionFrame,
			Discard:        r.Discard,
		}
	}
	return tbl, nil
}

// TableJSON is lineage table of a frame
type TableJSON struct {
	Frame   int          `json:"frame_index"`
	Records []RecordJSON `json:"records"`
}

// EditResult is outcome of an edit
type EditResult struct {
	Frame    int            `json:"frame_index"`
	Records  []RecordJSON   `json:"records"`
	Changed  []int          `json:"changed_frames"`
	Removed  []int          `json:"removed_cells,omitempty"`
	Warnings []errs.Warning `json:"warnings"`
}

func editResult(res lineage.Result) EditResult {
	out := EditResult{
		Frame:    res.Frame,
		Records:  recordsJSON(res.Table),
		Changed:  res.Changed,
		Removed:  res.Removed,
		Warnings: res.Warnings,
	}
	if out.Changed == nil {
		out.Changed = []int{}
	}
	if out.Warnings == nil {
		out.Warnings = []errs.Warning{}
	}
	return out
}

// CellEdit addresses a cell at a frame
type CellEdit struct {
	CellID int `json:"cell_id"`
	Frame  int `json:"frame_index"`
}

// ReassignEdit moves a bud to another mother
type ReassignEdit struct {
	BudID    int `json:"bud_id"`
	MotherID int `json:"mother_id"`
	Frame    int `json:"frame_index"`
}

// ReseedEdit replaces lineage of the first frame
type ReseedEdit struct {
	Confirm bool         `json:"confirm"`
	Records []RecordJSON `json:"records"`
}

// ErrorResponse is body of failed requests
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Frame  *int   `json:"frame_index,omitempty"`
	CellID int    `json:"cell_id,omitempty"`
}
