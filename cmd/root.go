package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/engine.yaml"
	rootCmd = &cobra.Command{
		Use:   "aa-engine",
		Short: "Account abstraction execution engine",
		Long: `Run and interact with the account abstraction execution engine.

Such as "aa-engine run" to start a node, or "aa-engine version".
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "./config/engine.yaml", "Path to config file")
}
