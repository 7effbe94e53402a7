// Package cmd wires the meetscribe commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "meetscribe",
	Short: "Meeting bot orchestration service",
	Long: `meetscribe sends notetaker bots into video calls, tracks each meeting
through its recording and transcription lifecycle, and turns finished
transcripts into structured outputs (study guides, meeting notes) via
pluggable processors.

Run 'meetscribe serve' to start the service.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
