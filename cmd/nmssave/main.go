// Command nmssave reads, inspects and rewrites No Man's Sky save files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/config"
	"github.com/nmstools/nmssave/pkg/keymap"
	"github.com/nmstools/nmssave/pkg/mapping"
	"github.com/nmstools/nmssave/pkg/save"
	"github.com/nmstools/nmssave/pkg/task"
)

const progressInterval = 2 * time.Second

// app carries the state shared by all subcommands.
type app struct {
	cfg *config.Config
	out io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{cfg: config.Default(), out: os.Stdout}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "nmssave",
		Short:         "Decompress, inspect and recompress No Man's Sky saves",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.ApplyEnv(nil)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if err := applog.Initialize(a.cfg.LogLevel, a.cfg.LogPath); err != nil {
				return err
			}
			applog.Debug("Configuration", zap.Stringer("config", a.cfg))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			applog.Shutdown()
		},
	}
	root.SetOut(a.out)

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.MappingFile, "mapping", a.cfg.MappingFile, "Local mapping.json (skips cache and download)")
	f.StringVar(&a.cfg.MappingURL, "mapping-url", a.cfg.MappingURL, "Remote mapping location")
	f.StringVar(&a.cfg.CacheDir, "cache-dir", a.cfg.CacheDir, "Directory for the cached mapping")
	f.DurationVar(&a.cfg.CacheMaxAge, "cache-max-age", a.cfg.CacheMaxAge, "Age after which the cached mapping is refreshed")
	f.BoolVar(&a.cfg.NoCache, "no-cache", a.cfg.NoCache, "Always download the mapping and never write the cache")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&a.cfg.LogPath, "log-path", a.cfg.LogPath, "Also write JSON logs to this file")
	f.IntVar(&a.cfg.MetadataBudget, "metadata-budget", a.cfg.MetadataBudget, "Decompressed bytes read for metadata previews")
	f.StringVar(&a.cfg.BackupDir, "backup-dir", a.cfg.BackupDir, "Directory for backups of overwritten files")
	f.StringVar(&a.cfg.OutputDir, "output-dir", a.cfg.OutputDir, "Directory for generated files when no output is given")
	f.BoolVar(&a.cfg.HighCompress, "high-compression", a.cfg.HighCompress, "Use LZ4 high compression when writing saves")

	root.AddCommand(
		newExtractCmd(a),
		newMetadataCmd(a),
		newListCmd(a),
		newRecompressCmd(a),
		newBlocksCmd(a),
		newBasesCmd(a),
		newMappingCmd(a),
		newRemapCmd(a),
	)
	return root
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// runTask runs fn in the background and logs progress until it returns.
func runTask[T any](ctx context.Context, label string, fn func(context.Context) (T, error)) (T, error) {
	t := task.Run(ctx, fn)
	return t.WaitTicking(ctx, progressInterval, func(elapsed time.Duration) {
		applog.Info(label+" in progress", zap.Duration("elapsed", elapsed.Round(time.Second)))
	})
}

func (a *app) loadMapping(ctx context.Context) (keymap.Mapping, error) {
	p := mapping.NewProvider(a.cfg.ProviderOptions()...)
	defer p.Close()

	res, err := runTask(ctx, "Mapping lookup", func(ctx context.Context) (*mapping.Result, error) {
		return p.Resolve(ctx, a.cfg.MappingFile)
	})
	if err != nil {
		return nil, err
	}
	applog.Info("Mapping ready",
		zap.Stringer("source", res.Source),
		zap.String("version", res.Version),
		zap.Int("entries", len(res.Mapping)))
	return res.Mapping, nil
}

// codec builds a save codec, loading the mapping when keys must be renamed.
func (a *app) codec(ctx context.Context, withMapping bool) (*save.Codec, error) {
	opts := []save.CodecOption{save.WithWriterOptions(a.cfg.WriterOptions()...)}
	if withMapping {
		m, err := a.loadMapping(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, save.WithMapping(m))
	}
	return save.NewCodec(opts...), nil
}

// stem strips the directory and the .zst/.json/.hg extensions from path.
func stem(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".zst", ".json", ".hg"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
		}
	}
	return name
}
