package errs

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestWarningKindJSON(t *testing.T) {
	w := Warning{Kind: KindAmbiguous, Frame: 4, CellID: 12, Reason: "no candidate mother in G1"}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"ambiguous assignment"`) {
		t.Errorf("Kind must be encoded by name, got %s", data)
	}
	var decoded Warning
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if decoded != w {
		t.Errorf("Expected %+v, got %+v", w, decoded)
	}
	if err := json.Unmarshal([]byte(`{"kind":"bogus"}`), &decoded); err == nil {
		t.Error("Expected error for unknown kind")
	}
}

func TestErrorKind(t *testing.T) {
	err := errors.Wrap(New(KindNotFound, 7, 3, "cell has no lineage record"), "edit")
	if !Is(err, KindNotFound) || KindOf(err) != KindNotFound {
		t.Errorf("Kind must survive wrapping, got %v", KindOf(err))
	}
	if msg := err.Error(); !strings.Contains(msg, "frame 7, cell 3") {
		t.Errorf("Unexpected message %q", msg)
	}
}
