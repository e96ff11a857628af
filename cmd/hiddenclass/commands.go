package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hiddenclass/internal/scenario"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the commands a shape script may use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, usage := range scenario.Commands() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), usage); err != nil {
				return err
			}
		}
		return nil
	},
}
