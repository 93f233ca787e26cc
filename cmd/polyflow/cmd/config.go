package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quantfall/polyflow/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate a starter configuration",
	Long: `Write the default configuration to a file, or print it to stdout when
no path is given.

Example:
  polyflow config --out polyflow.yaml`,
	RunE: runConfig,
}

var configOutPath string

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().StringVar(&configOutPath, "out", "", "output path (default: stdout)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if configOutPath == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(configOutPath, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("wrote %s\n", configOutPath)
	return nil
}
