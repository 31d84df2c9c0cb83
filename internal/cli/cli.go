// Package cli wires configuration, storage, segmentation and the pipeline into budtrack commands
package cli

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/LdDl/budtrack/internal/blob"
	"github.com/LdDl/budtrack/internal/config"
	"github.com/LdDl/budtrack/internal/logging"
	"github.com/LdDl/budtrack/internal/metrics"
	"github.com/LdDl/budtrack/internal/store"
	"github.com/LdDl/budtrack/lineage"
	"github.com/LdDl/budtrack/pipeline"
	"github.com/LdDl/budtrack/segment"
	_ "github.com/LdDl/budtrack/segment/cvseg"
)

// Version is set at build time
var Version = "dev"

// DefaultConfigPath is used when neither --config nor BUDTRACK_CONFIG is given
const DefaultConfigPath = "~/.config/budtrack/config.json"

// Root holds state shared by commands
type Root struct {
	cfgPath  string
	logLevel string
	cfg      *config.Config
	logger   zerolog.Logger
	out      io.Writer
}

// NewRootCmd creates the root command. Command output goes to out, logs to stderr of the command
func NewRootCmd(out io.Writer) *cobra.Command {
	root := &Root{out: out}
	rootCmd := &cobra.Command{
		Use:   "budtrack",
		Short: "Budding yeast segmentation, tracking and lineage",
		Long: `budtrack segments microscopy time series, tracks cells across frames
and keeps mother/bud lineage of every cell, with manual corrections.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init(cmd)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&root.cfgPath, "config", "", "config file (default $BUDTRACK_CONFIG or "+DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&root.logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newExportCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))
	return rootCmd
}

// Execute runs root command with process arguments
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdout).ExecuteContext(ctx)
}

func (r *Root) configPath() string {
	if r.cfgPath != "" {
		return r.cfgPath
	}
	if env := os.Getenv("BUDTRACK_CONFIG"); env != "" {
		return env
	}
	return DefaultConfigPath
}

func (r *Root) init(cmd *cobra.Command) error {
	cfg, err := config.Load(r.configPath())
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Logging.Level = r.logLevel
	}
	r.cfg = cfg
	r.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return nil
}

// position bundles controller of one position with its storage
type position struct {
	ctrl     *pipeline.Controller
	blobs    *store.Position
	sql      *store.SQL
	registry *prometheus.Registry
}

func (p *position) Close() error {
	if p.sql != nil {
		return p.sql.Close()
	}
	return nil
}

type positionOptions struct {
	name   string
	seed   string
	resume bool
}

// openPosition builds controller persisting into configured storage.
// With resume set the analysed frames are read back from blob storage first
func (r *Root) openPosition(ctx context.Context, opts positionOptions) (*position, error) {
	cfg := r.cfg
	pipeOpts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	if opts.seed != "" {
		tbl, err := readSeed(opts.seed)
		if err != nil {
			return nil, err
		}
		pipeOpts.Seed = tbl
	}
	segmenter, err := segment.New(cfg.Pipeline.Segmenter)
	if err != nil {
		return nil, err
	}
	blobs, err := r.openBlobs(ctx, opts.name)
	if err != nil {
		return nil, err
	}
	p := &position{
		blobs:    blobs,
		registry: prometheus.NewRegistry(),
	}
	p.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	persisters := pipeline.Persisters{blobs}
	if cfg.Storage.SQL.Driver != config.SQLNone {
		p.sql, err = store.OpenSQL(ctx, store.Dialect(cfg.Storage.SQL.Driver), cfg.Storage.SQL.DSN, opts.name)
		if err != nil {
			return nil, err
		}
		persisters = append(persisters, p.sql)
	}
	logger := r.logger.With().Str("position", opts.name).Logger()
	p.ctrl = pipeline.New(segmenter, pipeOpts,
		pipeline.WithPersister(persisters),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics.NewPipeline(p.registry)),
	)
	if opts.resume {
		frames, tl, err := blobs.Load(ctx)
		if err != nil {
			p.Close()
			return nil, errors.Wrap(err, "can't load stored frames")
		}
		if len(frames) > 0 {
			next, err := blobs.LoadNextFreeID(ctx)
			if err != nil {
				p.Close()
				return nil, errors.Wrap(err, "can't load position state")
			}
			if err := p.ctrl.Restore(frames, tl, next); err != nil {
				p.Close()
				return nil, err
			}
		}
		logger.Info().Int("frames", len(frames)).Msg("Position restored")
	}
	return p, nil
}

func (r *Root) openBlobs(ctx context.Context, name string) (*store.Position, error) {
	s := r.cfg.Storage
	bs, err := blob.Open(ctx, blob.Driver(s.Driver), s.Root, blob.S3Config{
		Bucket:    s.S3.Bucket,
		Region:    s.S3.Region,
		Endpoint:  s.S3.Endpoint,
		PathStyle: s.S3.PathStyle,
		Prefix:    s.S3.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return store.NewPosition(bs, name)
}

// readSeed reads lineage table of the first frame from CSV
func readSeed(path string) (lineage.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't open seed")
	}
	defer f.Close()
	tl, err := lineage.ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read seed %s", path)
	}
	if !tl.IsSet(0) {
		return nil, errors.Errorf("seed %s has no table of frame 0", path)
	}
	return tl[0], nil
}
