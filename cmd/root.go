/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "racedesk",
	Short: "Race director to pilot messaging backend",
	Long: `racedesk serves the messaging API that race directors use to reach
pilots, and carries the operational commands around it:

	racedesk server
	racedesk migrate up
	racedesk seed --mode cycle
	racedesk notify
	racedesk token --sub <user id> --role pilot`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
