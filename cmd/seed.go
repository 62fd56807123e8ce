/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-extras/cobraflags"
	"github.com/olekukonko/tablewriter"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/logging"
	"github.com/racedesk/apiserver/internal/seed"
	"github.com/racedesk/apiserver/internal/server"
	"github.com/spf13/cobra"
)

const (
	seedModeFlag   = "mode"
	seedAnchorFlag = "anchor"

	seedModeCycle  = "cycle"
	seedModeFanOut = "fanout"
)

var seedFlags = map[string]cobraflags.Flag{
	seedModeFlag: &cobraflags.StringFlag{
		Name:  seedModeFlag,
		Value: seedModeCycle,
		Usage: "Generator mode (cycle, fanout)",
	},
	seedAnchorFlag: &cobraflags.StringFlag{
		Name:  seedAnchorFlag,
		Value: seed.DefaultAnchor,
		Usage: "Nick of the user anchoring the cycle mode",
	},
}

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace all messages with demo data",
	Long: `Deletes every message and recipient link, then writes demo messages.

	racedesk seed --mode cycle --anchor Arek   # scripted conversation around one pilot
	racedesk seed --mode fanout                # one message from every user to a random other user`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		logger := logging.Setup(cfg.LogLevel)

		stores, err := server.OpenStores(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer stores.Close()

		gen := seed.New(stores.Users, stores.Messages, seed.WithLogger(logger))

		var result seed.Result
		switch mode := strings.ToLower(seedFlags[seedModeFlag].GetString()); mode {
		case seedModeCycle:
			result, err = gen.Cycle(cmd.Context(), seedFlags[seedAnchorFlag].GetString())
		case seedModeFanOut:
			result, err = gen.FanOut(cmd.Context())
		default:
			return fmt.Errorf("unknown seed mode %q", mode)
		}
		if err != nil {
			return err
		}

		printSeedResult(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	cobraflags.RegisterMap(seedCmd, seedFlags)
	rootCmd.AddCommand(seedCmd)
}

func printSeedResult(w io.Writer, result seed.Result) {
	if len(result.CreatedUsers) > 0 {
		fmt.Fprintf(w, "Created users: %s\n", strings.Join(result.CreatedUsers, ", "))
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped: %s\n", strings.Join(result.Skipped, ", "))
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Sent At", "Sender", "Recipient", "Content"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, row := range result.Rows {
		table.Append([]string{row.SentAt.Format(time.RFC3339), row.Sender, row.Recipient, row.Content})
	}
	table.Render()

	fmt.Fprintf(w, "%s: wrote %d messages\n", result.Mode, len(result.Rows))
}
