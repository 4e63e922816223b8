package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "keychain",
	Short: "Keychain authorizes dApp sessions and signs on their behalf",
	Long: `Keychain grants dApps scoped, time-boxed sessions to invoke contract methods
and replays them without prompting the user again.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}
