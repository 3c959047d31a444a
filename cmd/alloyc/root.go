package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is the base command for the alloyc compiler CLI.
var rootCmd = &cobra.Command{
	Use:          "alloyc",
	Short:        "alloyc compiles alloy service annotations into a generated wiring package",
	SilenceUsage: true,
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) { rootCmd.Version = v }

// Execute runs the root command; called from main.
func Execute() error {
	rootCmd.SetVersionTemplate(`{{printf "alloyc version %s\n" .Version}}`)
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "alloy.yaml", "path to the alloy project config")
	rootCmd.AddCommand(generateCmd, watchCmd, manifestCmd)
}
