// Command voiceflowd runs the debt-collection agent testing service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/svarunid/voiceflow/logger"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "voiceflowd",
		Short: "Simulation service for testing debt-collection agent prompts",
		Long: `voiceflowd simulates debt-collection calls between an agent under test
and generated debtor personas, scores the transcripts, and iterates on the
agent prompt from the failures.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.SetVerbose(verbose)
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
