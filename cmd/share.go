package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomsync/internal/joinurl"
	"github.com/BioHazard786/roomsync/internal/roomname"
	"github.com/BioHazard786/roomsync/internal/ui"
)

var flagPrintOnly bool

var shareCmd = &cobra.Command{
	Use:     "share [room]",
	Aliases: []string{"s"},
	Short:   "Open a room and print a join link for other devices",
	Long: `Open a room (a random name is picked when none is given), print its join link
and keep syncing until interrupted.

Examples:
  roomsync share
  roomsync share trading-floor
  roomsync share --print-only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.Flags().BoolVarP(&flagPrintOnly, "print-only", "p", false, "Print the join link and exit")
	shareCmd.Flags().StringArrayVarP(&flagSet, "set", "s", nil, "Set a state key (key=json), repeatable")
}

func runShare(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig("")
	if err != nil {
		return err
	}
	patch, err := parseAssignments(flagSet)
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	} else {
		name, err = roomname.Generate(nil)
		if err != nil {
			return fmt.Errorf("generate room name: %w", err)
		}
	}

	link, err := joinurl.ShareURL(cfg.ShareBaseURL, name)
	if err != nil {
		return err
	}
	fmt.Println(ui.ShareInfo{Room: name, Link: link, Broker: cfg.BrokerURL}.View())
	if flagPrintOnly {
		return nil
	}

	ctx := cmd.Context()
	s, closeSession, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSession()

	if _, err := joinWithSpinner(ctx, s, name); err != nil {
		return err
	}
	if len(patch) > 0 {
		if err := s.Set(patch); err != nil {
			return err
		}
	}
	return watch(ctx, s, name)
}
