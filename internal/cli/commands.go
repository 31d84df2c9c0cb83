package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LdDl/budtrack/internal/acquire"
	"github.com/LdDl/budtrack/internal/config"
	"github.com/LdDl/budtrack/internal/server"
	"github.com/LdDl/budtrack/pipeline"
	"github.com/LdDl/budtrack/segment"
)

func addPositionFlags(cmd *cobra.Command, opts *positionOptions) {
	cmd.Flags().StringVarP(&opts.name, "position", "p", "pos1", "position name, used as storage prefix")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "CSV with lineage table of the first frame")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue after frames stored for the position")
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(root *Root) *cobra.Command {
	var opts positionOptions
	cmd := &cobra.Command{
		Use:   "run <frames_directory>",
		Short: "Analyse frame files of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := acquire.NewDir(args[0], 0)
			if err != nil {
				return err
			}
			return root.analyse(cmd.Context(), opts, src)
		},
	}
	addPositionFlags(cmd, &opts)
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var opts positionOptions
	cmd := &cobra.Command{
		Use:   "watch <acquisition_directory>",
		Short: "Analyse frames while they are acquired",
		Long: `Watch an acquisition directory and analyse every frame file once it is written.
The run ends when the file ` + acquire.DoneMarker + ` appears in the directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := acquire.NewWatch(args[0], 0, acquire.WithWatchLogger(root.logger))
			if err != nil {
				return err
			}
			defer src.Close()
			return root.analyse(cmd.Context(), opts, src)
		},
	}
	addPositionFlags(cmd, &opts)
	return cmd
}

// analyse runs the pipeline over src and prints the run summary as JSON
func (r *Root) analyse(ctx context.Context, opts positionOptions, src pipeline.FrameSource) error {
	ctx, stop := signalContext(ctx)
	defer stop()
	pos, err := r.openPosition(ctx, opts)
	if err != nil {
		return err
	}
	defer pos.Close()
	summary, runErr := pos.ctrl.Run(ctx, src, nil)
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return errors.Wrap(err, "can't print summary")
	}
	return runErr
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		opts positionOptions
		addr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a position over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			pos, err := root.openPosition(ctx, opts)
			if err != nil {
				return err
			}
			defer pos.Close()
			sources := func(req server.RunRequest) (pipeline.FrameSource, error) {
				if req.Dir == "" {
					return nil, errors.New("dir is required")
				}
				if req.Watch {
					return acquire.NewWatch(req.Dir, 0, acquire.WithWatchLogger(root.logger))
				}
				return acquire.NewDir(req.Dir, 0)
			}
			options := []server.Option{server.WithLogger(root.logger)}
			if root.cfg.Server.Metrics {
				options = append(options, server.WithGatherer(pos.registry))
			}
			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			return server.New(pos.ctrl, sources, options...).ListenAndServe(ctx, addr)
		},
	}
	addPositionFlags(cmd, &opts)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func newExportCmd(root *Root) *cobra.Command {
	var (
		name   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored lineage of a position as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			blobs, err := root.openBlobs(cmd.Context(), name)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return blobs.ExportCSV(cmd.Context(), root.out)
			}
			f, err := os.Create(output)
			if err != nil {
				return errors.Wrap(err, "can't create output")
			}
			if err := blobs.ExportCSV(cmd.Context(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&name, "position", "p", "pos1", "position name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout when empty")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(root.out, "# %s\n", root.configPath())
			enc := json.NewEncoder(root.out)
			enc.SetIndent("", "  ")
			return enc.Encode(root.cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default configuration to the config path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := root.configPath()
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(root.out, "Configuration written to %s\n", path)
			return nil
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and available segmenters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(root.out, "budtrack %s (%s)\n", Version, runtime.Version())
			fmt.Fprintf(root.out, "segmenters: %s\n", strings.Join(segment.Names(), ", "))
			return nil
		},
	}
}
