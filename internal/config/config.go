// Package config holds user-editable settings of budtrack commands and services
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/pipeline"
	"github.com/LdDl/budtrack/tracking"
)

// Storage drivers
const (
	DriverFS     = "fs"
	DriverMemory = "memory"
	DriverS3     = "s3"
)

// SQL dialects of the lineage mirror
const (
	SQLNone     = ""
	SQLSQLite   = "sqlite"
	SQLPostgres = "postgres"
)

// Config holds settings of a position analysis
type Config struct {
	Tracking Tracking `json:"tracking"`
	Lineage  Lineage  `json:"lineage"`
	Pipeline Pipeline `json:"pipeline"`
	Storage  Storage  `json:"storage"`
	Logging  Logging  `json:"logging"`
	Server   Server   `json:"server"`
}

// Tracking configures the frame tracker
type Tracking struct {
	IoAThreshold      float64 `json:"ioa_threshold"`
	Assignment        string  `json:"assignment"` // greedy, hungarian
	MinObjectSize     int     `json:"min_object_size"`
	NormaliseIDsAtEnd bool    `json:"normalise_ids_at_end"`
}

// Lineage configures bud assignment and edits
type Lineage struct {
	MotherSearchSet string `json:"mother_search_set"` // g1, any
	PropagateEdits  bool   `json:"propagate_edits"`
}

// Pipeline configures the controller
type Pipeline struct {
	PersistPerFrame  bool   `json:"persist_per_frame"`
	Segmenter        string `json:"segmenter"`
	SegmenterRetries int    `json:"segmenter_retries"`
}

// Storage configures where label frames and lineage tables go
type Storage struct {
	Driver string `json:"driver"` // fs, memory, s3
	Root   string `json:"root"`
	S3     S3     `json:"s3"`
	SQL    SQL    `json:"sql"`
}

// S3 configures S3 compatible blob storage
type S3 struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	PathStyle bool   `json:"path_style"`
	Prefix    string `json:"prefix"`
}

// SQL configures optional mirror of lineage tables in a database
type SQL struct {
	Driver string `json:"driver"` // "", sqlite, postgres
	DSN    string `json:"dsn"`
}

// Logging controls verbosity and output format
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // console, json
}

// Server configures HTTP API
type Server struct {
	Addr    string `json:"addr"`
	Metrics bool   `json:"metrics"`
}

// Default returns configuration with default values
func Default() *Config {
	return &Config{
		Tracking: Tracking{
			IoAThreshold: tracking.DefaultIoAThreshold,
			Assignment:   tracking.AssignmentGreedy.String(),
		},
		Lineage: Lineage{
			MotherSearchSet: lineage.MotherSearchG1.String(),
			PropagateEdits:  true,
		},
		Pipeline: Pipeline{
			PersistPerFrame: true,
			Segmenter:       "identity",
		},
		Storage: Storage{
			Driver: DriverFS,
			Root:   "./budtrack-data",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Server: Server{
			Addr:    "127.0.0.1:8080",
			Metrics: true,
		},
	}
}

// Load reads configuration from path on top of defaults. Missing file gives defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "can't open config")
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "can't decode config %s", expanded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path atomically
func (cfg *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "can't encode config")
	}
	dir := filepath.Dir(expanded)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "can't create config directory")
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return errors.Wrap(err, "can't create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return errors.Wrap(err, "can't write config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "can't close config")
	}
	return errors.Wrap(os.Rename(tmp.Name(), expanded), "can't replace config")
}

// Validate checks enumerations and ranges
func (cfg *Config) Validate() error {
	if cfg.Tracking.IoAThreshold < 0 || cfg.Tracking.IoAThreshold >= 1 {
		return errors.Errorf("tracking.ioa_threshold must be in [0, 1), got %v", cfg.Tracking.IoAThreshold)
	}
	if _, err := tracking.ParseAssignment(cfg.Tracking.Assignment); err != nil {
		return errors.Wrap(err, "tracking.assignment")
	}
	if cfg.Tracking.MinObjectSize < 0 {
		return errors.Errorf("tracking.min_object_size must not be negative, got %d", cfg.Tracking.MinObjectSize)
	}
	if _, err := lineage.ParseMotherSearch(cfg.Lineage.MotherSearchSet); err != nil {
		return errors.Wrap(err, "lineage.mother_search_set")
	}
	if cfg.Pipeline.Segmenter == "" {
		return errors.New("pipeline.segmenter is empty")
	}
	if cfg.Pipeline.SegmenterRetries < 0 {
		return errors.Errorf("pipeline.segmenter_retries must not be negative, got %d", cfg.Pipeline.SegmenterRetries)
	}
	switch cfg.Storage.Driver {
	case DriverFS:
		if cfg.Storage.Root == "" {
			return errors.New("storage.root is required by fs driver")
		}
	case DriverMemory:
	case DriverS3:
		if cfg.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required by s3 driver")
		}
	default:
		return errors.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
	switch cfg.Storage.SQL.Driver {
	case SQLNone:
	case SQLSQLite, SQLPostgres:
		if cfg.Storage.SQL.DSN == "" {
			return errors.Errorf("storage.sql.dsn is required by %s", cfg.Storage.SQL.Driver)
		}
	default:
		return errors.Errorf("unknown storage.sql.driver %q", cfg.Storage.SQL.Driver)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "console", "json":
	default:
		return errors.Errorf("unknown logging.format %q", cfg.Logging.Format)
	}
	return nil
}

// PipelineOptions converts settings to controller options
func (cfg *Config) PipelineOptions() (pipeline.Options, error) {
	if err := cfg.Validate(); err != nil {
		return pipeline.Options{}, err
	}
	algorithm, _ := tracking.ParseAssignment(cfg.Tracking.Assignment)
	search, _ := lineage.ParseMotherSearch(cfg.Lineage.MotherSearchSet)
	return pipeline.Options{
		Tracker: tracking.NewFrameTracker(cfg.Tracking.IoAThreshold, algorithm),
		Lineage: lineage.Options{
			MotherSearch:   search,
			PropagateEdits: cfg.Lineage.PropagateEdits,
		},
		MinObjectSize:     cfg.Tracking.MinObjectSize,
		SegmenterRetries:  cfg.Pipeline.SegmenterRetries,
		PersistPerFrame:   cfg.Pipeline.PersistPerFrame,
		NormaliseIDsAtEnd: cfg.Tracking.NormaliseIDsAtEnd,
	}, nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "can't resolve home directory")
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
