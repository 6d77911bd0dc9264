package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/chaosvault/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:         "example <path>",
	Short:       "Write an example config file with every default",
	Example:     `  chaosvault config example ./chaosvault.yaml`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"skipClient": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		printSuccess("Wrote %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd)
}
