package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/tracking"
)

func TestLoadMissingGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Tracking.IoAThreshold != 0.4 || !cfg.Pipeline.PersistPerFrame || !cfg.Lineage.PropagateEdits {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "budtrack.json")
	cfg := Default()
	cfg.Tracking.IoAThreshold = 0.55
	cfg.Tracking.Assignment = "hungarian"
	cfg.Lineage.MotherSearchSet = "any"
	cfg.Lineage.PropagateEdits = false
	cfg.Storage.SQL = SQL{Driver: SQLSQLite, DSN: "file:lineage.db"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Expected %+v, got %+v", cfg, loaded)
	}
	opts, err := loaded.PipelineOptions()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if opts.Tracker.Threshold() != 0.55 || opts.Tracker.Algorithm() != tracking.AssignmentHungarian {
		t.Errorf("Wrong tracker options %v / %v", opts.Tracker.Threshold(), opts.Tracker.Algorithm())
	}
	if opts.Lineage.MotherSearch != lineage.MotherSearchAny || opts.Lineage.PropagateEdits {
		t.Errorf("Wrong lineage options %+v", opts.Lineage)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold":  func(c *Config) { c.Tracking.IoAThreshold = 1.2 },
		"assignment": func(c *Config) { c.Tracking.Assignment = "auction" },
		"search":     func(c *Config) { c.Lineage.MotherSearchSet = "s-phase" },
		"driver":     func(c *Config) { c.Storage.Driver = "ftp" },
		"bucket":     func(c *Config) { c.Storage.Driver = DriverS3 },
		"dsn":        func(c *Config) { c.Storage.SQL.Driver = SQLPostgres },
		"retries":    func(c *Config) { c.Pipeline.SegmenterRetries = -1 },
		"format":     func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Defaults must be valid: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"tracking": {"iou_threshold": 0.3}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown field")
	}
}
