package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmstools/nmssave/pkg/container"
	"github.com/nmstools/nmssave/pkg/keymap"
	"github.com/nmstools/nmssave/pkg/save"
	"github.com/nmstools/nmssave/pkg/session"
)

func newExtractCmd(a *app) *cobra.Command {
	var output string
	var raw bool

	cmd := &cobra.Command{
		Use:   "extract <save.hg>",
		Short: "Decompress a save to (deobfuscated) JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			codec, err := a.codec(ctx, !raw)
			if err != nil {
				return err
			}
			if output == "" {
				output = a.cfg.OutputPath(stem(args[0]) + ".json")
			}

			v, err := runTask(ctx, "Extraction", func(context.Context) (any, error) {
				return codec.ExtractFile(args[0], !raw)
			})
			if err != nil {
				return err
			}
			if err := session.WriteJSON(output, v); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			a.printf("Extracted %s to %s\n", args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSON file (.zst for zstd)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Keep obfuscated keys")
	return cmd
}

func newMetadataCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <save.hg>",
		Short: "Preview a save's leading fields without decompressing all of it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := save.NewCodec().ReadMetadata(args[0], a.cfg.MetadataBudget)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(md, "", "  ")
			if err != nil {
				return err
			}
			a.printf("%s\n", data)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [save-dir]",
		Short: "List the saves in a save directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if len(args) == 1 {
				dir = args[0]
			} else {
				found, err := save.DefaultSaveDir()
				if err != nil {
					return err
				}
				dir = found
			}

			list, err := save.NewCodec().ListSaves(dir, a.cfg.MetadataBudget)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(list, "", "  ")
				if err != nil {
					return err
				}
				a.printf("%s\n", data)
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tSLOT\tTYPE\tNAME\tVERSION\tPLATFORM\tMODIFIED")
			for _, md := range list {
				if md.Unreadable {
					fmt.Fprintf(tw, "%s\t%d\tunreadable\t%s\t\t\t\n", md.Path, md.FileSlot, md.Error)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					md.Path, md.FileSlot, md.ExpeditionType, md.SaveName,
					md.Version, md.Platform, md.LastSaved.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newRecompressCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "recompress <save.json>",
		Short: "Compress an extracted JSON save back into a save file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := session.ReadJSON(args[0])
			if err != nil {
				return err
			}
			codec, err := a.codec(ctx, keymap.IsMapped(v))
			if err != nil {
				return err
			}
			if output == "" {
				output = a.cfg.OutputPath(stem(args[0]) + ".hg")
			}

			sess := session.New(codec, session.WithBackupDir(a.cfg.BackupDir))
			sess.SetTree(v, output)
			res, err := runTask(ctx, "Recompression", func(ctx context.Context) (*session.SaveResult, error) {
				return sess.Save(ctx, "")
			})
			if err != nil {
				return err
			}
			a.printSaveResult(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output save file")
	return cmd
}

func (a *app) printSaveResult(res *session.SaveResult) {
	if res.Backup != "" {
		a.printf("Backup: %s\n", res.Backup)
	}
	a.printf("Wrote %s: %d blocks, %d -> %d bytes (ratio %.3f)\n",
		res.Path, res.Stats.Blocks, res.Stats.UncompressedBytes, res.Stats.CompressedBytes, res.Stats.Ratio())
}

func newBlocksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks <save.hg>",
		Short: "List the compressed blocks of a save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "#\tOFFSET\tCOMPRESSED\tUNCOMPRESSED\t")
			sc := container.NewScanner(data)
			n := 0
			for sc.Next() {
				b := sc.Block()
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t\n", n, b.Offset, b.Header.CompressedSize, b.Header.UncompressedSize)
				n++
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			_, stats := container.DecodeStats(data)
			a.printf("%d blocks, %d -> %d bytes (ratio %.3f), %d bytes skipped\n",
				stats.Blocks, stats.CompressedBytes, stats.UncompressedBytes, stats.Ratio(), stats.SkippedBytes)
			if err := sc.Err(); err != nil {
				a.printf("Scan stopped: %v\n", err)
			}
			if stats.Stopped != nil {
				a.printf("Decode stopped: %v\n", stats.Stopped)
			}
			return nil
		},
	}
}
