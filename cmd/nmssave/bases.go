package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmstools/nmssave/pkg/applog"
	"github.com/nmstools/nmssave/pkg/bases"
	"github.com/nmstools/nmssave/pkg/fsutil"
	"github.com/nmstools/nmssave/pkg/session"
)

func newBasesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bases",
		Short: "Inspect and edit player bases and ships",
	}
	cmd.AddCommand(
		newBasesListCmd(a),
		newBasesExportCmd(a),
		newBasesReplaceCmd(a),
	)
	return cmd
}

// openSave extracts the save at path into a new session.
func (a *app) openSave(ctx context.Context, path string) (*session.Session, error) {
	codec, err := a.codec(ctx, true)
	if err != nil {
		return nil, err
	}
	sess := session.New(codec, session.WithBackupDir(a.cfg.BackupDir))
	_, err = runTask(ctx, "Extraction", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sess.Open(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid base index %q", s)
	}
	return i, nil
}

func newBasesListCmd(a *app) *cobra.Command {
	var baseType, csvPath string

	cmd := &cobra.Command{
		Use:   "list <save.hg>",
		Short: "List bases with their component counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSave(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			all, err := sess.Bases()
			if err != nil {
				return err
			}

			var rows []bases.Summary
			for _, row := range bases.Summaries(all) {
				if baseType == "" || row.Type == baseType {
					rows = append(rows, row)
				}
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tTYPE\tOWNER\tMODE\tOBJECTS")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", r.Index, r.Name, r.Type, r.OwnerUSN, r.GameMode, r.NumObjects)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			a.printf("\n%d bases (%s), %d components in total\n",
				len(all), typeCounts(all), bases.TotalComponents(all))
			if owned, err := bases.OwnerComponents(sess.Root(), all); err == nil {
				a.printf("%d components owned by this save's player\n", owned)
			} else {
				applog.Debug("Owner components unavailable", zap.Error(err))
			}

			if csvPath != "" {
				err := fsutil.WriteAtomic(csvPath, 0644, func(w io.Writer) error {
					return bases.WriteCSV(w, rows)
				})
				if err != nil {
					return fmt.Errorf("write %s: %w", csvPath, err)
				}
				a.printf("Exported %d bases to %s\n", len(rows), csvPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseType, "type", "", "Only list bases of this type (e.g. PlayerShipBase)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Also write the listing as CSV")
	return cmd
}

func typeCounts(all []any) string {
	var s string
	for i, t := range bases.Types(all) {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %d", t, bases.CountByType(all, t))
	}
	return s
}

func newBasesExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <save.hg> <index>",
		Short: "Write one base to a JSON file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			sess, err := a.openSave(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				base, err := sess.Base(index)
				if err != nil {
					return err
				}
				output = a.cfg.OutputPath(filepath.Join("bases", bases.FileName(base, time.Now())))
			}

			backup, err := sess.ExportBase(index, output)
			if err != nil {
				return err
			}
			if backup != "" {
				a.printf("Backup: %s\n", backup)
			}
			a.printf("Base %d written to %s\n", index, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSON file")
	return cmd
}

func newBasesReplaceCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "replace <save.hg> <index> <base.json>",
		Short: "Replace one base with a JSON file and write the save",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			sess, err := a.openSave(ctx, args[0])
			if err != nil {
				return err
			}
			if err := sess.ImportBase(index, args[2]); err != nil {
				return err
			}

			res, err := runTask(ctx, "Recompression", func(ctx context.Context) (*session.SaveResult, error) {
				return sess.Save(ctx, output)
			})
			if err != nil {
				return err
			}
			a.printSaveResult(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output save file (default: overwrite the input after a backup)")
	return cmd
}
