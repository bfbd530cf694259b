package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/sassbridge/internal/config"
)

var (
	initPath  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(initPath); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
		}
		if err := config.WriteDefaultConfig(initPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", initPath)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", config.DefaultConfigPath, "where to write the config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
