package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomsync/internal/logging"
	"github.com/BioHazard786/roomsync/internal/ui"
	"github.com/BioHazard786/roomsync/internal/version"
)

var (
	flagDomain    string
	flagBroker    string
	flagShareBase string
	flagConfig    string
	flagSyncKeys  []string
	flagLogLevel  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomsync",
	Short: "Keep application state in sync across devices through shared rooms",
	Long: `roomsync joins named rooms on a pub/sub broker and mirrors an allow-listed set of
application state keys between every device in the same room. Late joiners receive the
latest state as soon as they subscribe.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagLogLevel != "" {
			logging.Init(flagLogLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagDomain, "domain", "", "Broker domain")
	flags.StringVar(&flagBroker, "broker", "", "Broker websocket URL (overrides --domain)")
	flags.StringVar(&flagShareBase, "share-base", "", "Base URL for join links")
	flags.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	flags.StringSliceVar(&flagSyncKeys, "sync-keys", nil, "State keys mirrored between devices")
	flags.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
