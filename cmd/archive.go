/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/google/uuid"
	"github.com/racedesk/apiserver/config"
	"github.com/racedesk/apiserver/internal/server"
	"github.com/racedesk/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

const archiveUserFlag = "user"

var archiveFlags = map[string]cobraflags.Flag{
	archiveUserFlag: &cobraflags.StringFlag{
		Name:  archiveUserFlag,
		Usage: "Id of the deleted user",
	},
}

// archiveCmd represents the archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect snapshots taken when users were deleted",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the snapshot keys of a deleted user",
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, id, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer archive.Close()

		keys, err := archive.UserSnapshots(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest snapshot of a deleted user",
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, id, err := openArchive(cmd)
		if err != nil {
			return err
		}
		defer archive.Close()

		snapshot, _, err := archive.LatestUser(cmd.Context(), id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

func init() {
	cobraflags.RegisterMap(archiveListCmd, archiveFlags)
	cobraflags.RegisterMap(archiveShowCmd, archiveFlags)
	archiveCmd.AddCommand(archiveListCmd, archiveShowCmd)
	rootCmd.AddCommand(archiveCmd)
}

func openArchive(cmd *cobra.Command) (*storage.Archive, uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(archiveFlags[archiveUserFlag].GetString()))
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("--%s: %w", archiveUserFlag, err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, uuid.Nil, err
	}
	archive, err := server.OpenArchive(cmd.Context(), cfg)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if archive == nil {
		return nil, uuid.Nil, errors.New("archive needs STORAGE_BACKEND to be minio or gcs")
	}
	return archive, id, nil
}
