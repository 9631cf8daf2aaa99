package cmd

import (
	"fmt"
)

// Shared command flags
var (
	formatFlag string // output format (json/yaml)
	configFlag string
)

// validateFormat checks if the provided format is either "json" or "yaml"
func validateFormat(format string) error {
	if format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format: %s. Valid options are 'json' or 'yaml'", format)
	}
	return nil
}

func initSharedFlags() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "json", "Output format: json or yaml")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a YAML config file")
}
