package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"hiddenclass/internal/stats"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [flags] <stats.hcs>",
	Short: "Print a saved statistics snapshot",
	Long:  `Read a snapshot written by "run --stats msgpack" and print it as text or convert it to a pprof profile`,
	Args:  cobra.ExactArgs(1),
	RunE:  inspectSnapshot,
}

func init() {
	inspectCmd.Flags().String("format", "text", "output format (text|pprof)")
	inspectCmd.Flags().StringP("out", "o", "", "output file for pprof")
	inspectCmd.Flags().Int("tree", 40, "transition tree lines (0 hides the tree)")
}

func inspectSnapshot(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	tree, err := cmd.Flags().GetInt("tree")
	if err != nil {
		return err
	}

	snap, err := stats.ReadFile(args[0])
	if err != nil {
		return err
	}

	switch format {
	case "text":
		return stats.WriteText(cmd.OutOrStdout(), snap, stats.TextOptions{
			Color:     !color.NoColor,
			TreeLimit: tree,
			EdgeWidth: 48,
		})
	case "pprof":
		if out == "" {
			return fmt.Errorf("--format pprof needs --out")
		}
		if err := writeProfileFile(out, snap); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d shapes)\n", out, len(snap.Tree))
		return nil
	default:
		return &flagError{flag: "format", value: format, allowed: "text|pprof"}
	}
}
