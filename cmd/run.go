package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sutrapulse/aa-engine/node"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine node",
	Long: `Initialize and run an engine node.

Use --config=path-to-your-config-file. default is ./config/engine.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return node.RunWithConfig(config)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
