package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sassbridge/internal/config"
	"github.com/zjrosen/sassbridge/internal/presentation"
)

var targetJSON bool

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage the watch targets in the config file",
}

var targetAddCmd = &cobra.Command{
	Use:   "add <input> <output>",
	Short: "Add a watch target, replacing any target with the same input",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		target := config.TargetConfig{Input: args[0], Output: args[1]}
		if err := config.AddTarget(path, target, cfg.Watch.Targets); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s -> %s to %s\n", target.Input, target.Output, path)
		return nil
	},
}

var targetRemoveCmd = &cobra.Command{
	Use:     "remove <input>",
	Aliases: []string{"rm"},
	Short:   "Remove the watch target for an input",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFilePath()
		if err := config.RemoveTarget(path, args[0], cfg.Watch.Targets); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", args[0], path)
		return nil
	},
}

var targetListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List watch targets",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dtos := make([]presentation.TargetDTO, len(cfg.Watch.Targets))
		for i, t := range cfg.Watch.Targets {
			dtos[i] = presentation.TargetDTO{Input: t.Input, Output: t.Output}
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).WithJSON(targetJSON).FormatTargets(dtos)
	},
}

func init() {
	targetListCmd.Flags().BoolVar(&targetJSON, "json", false, "print targets as JSON")
	targetCmd.AddCommand(targetAddCmd, targetRemoveCmd, targetListCmd)
	rootCmd.AddCommand(targetCmd)
}
