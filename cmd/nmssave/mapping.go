package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmstools/nmssave/pkg/keymap"
	"github.com/nmstools/nmssave/pkg/mapping"
	"github.com/nmstools/nmssave/pkg/session"
)

func newMappingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage the key mapping cache",
	}

	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Download the mapping and refresh the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := mapping.NewProvider(a.cfg.ProviderOptions()...)
			defer p.Close()

			res, err := runTask(cmd.Context(), "Mapping download", p.Refresh)
			if err != nil {
				return err
			}
			a.printf("Mapping %s: %d entries\n", res.Version, len(res.Mapping))
			if !a.cfg.NoCache {
				a.printf("Cached at %s\n", p.CachePath())
			}
			return nil
		},
	}

	clearCache := &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete the cached mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := mapping.NewProvider(a.cfg.ProviderOptions()...)
			defer p.Close()

			removed, err := p.ClearCache()
			if err != nil {
				return err
			}
			if removed {
				a.printf("Removed %s\n", p.CachePath())
			} else {
				a.printf("No cache at %s\n", p.CachePath())
			}
			return nil
		},
	}

	cmd.AddCommand(fetch, clearCache)
	return cmd
}

func newRemapCmd(a *app) *cobra.Command {
	var output, direction string

	cmd := &cobra.Command{
		Use:   "remap <file.json>",
		Short: "Rename the keys of a JSON save between obfuscated and documented names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := session.ReadJSON(args[0])
			if err != nil {
				return err
			}

			var dir keymap.Direction
			switch direction {
			case "auto":
				dir = keymap.Detect(v)
			case "deobfuscate":
				dir = keymap.Deobfuscate
			case "obfuscate":
				dir = keymap.Obfuscate
			default:
				return fmt.Errorf("--direction must be auto, deobfuscate or obfuscate, got %q", direction)
			}

			m, err := a.loadMapping(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" {
				output = a.cfg.OutputPath(stem(args[0]) + "_" + dir.String() + "d.json")
			}
			if err := session.WriteJSON(output, keymap.MapKeys(v, m, dir)); err != nil {
				return err
			}
			a.printf("Applied %s mapping to %s, wrote %s\n", dir, args[0], output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output JSON file (.zst for zstd)")
	cmd.Flags().StringVar(&direction, "direction", "auto", "auto, deobfuscate or obfuscate")
	return cmd
}
