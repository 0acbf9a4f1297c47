package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/roomsync/internal/joinurl"
	"github.com/BioHazard786/roomsync/internal/registry"
	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/session"
	"github.com/BioHazard786/roomsync/internal/ui"
)

var (
	flagSet    []string
	flagWatch  bool
	flagFollow bool
	flagFormat string
	flagSettle time.Duration
)

var joinCmd = &cobra.Command{
	Use:     "join [room|link]...",
	Aliases: []string{"j"},
	Short:   "Join rooms and sync state with the other devices in them",
	Long: `Join one or more rooms by name or join link, optionally change state, and print
the rooms and synced state.

Rooms listed under auto_join in the config file are joined as well.

Examples:
  roomsync join tiger-noodle-42
  roomsync join "https://app.roomsync.dev/#join:tiger-noodle-42"
  roomsync join tiger-noodle-42 --set 'watchlists=["AAPL","MSFT"]'
  roomsync join tiger-noodle-42 --watch
  echo "https://app.roomsync.dev/#join:other-room" | roomsync join --follow`,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinCmd.Flags().StringArrayVarP(&flagSet, "set", "s", nil, "Set a state key (key=json), repeatable")
	joinCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "Keep running and show a live dashboard")
	joinCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "Join every join link read from stdin")
	joinCmd.Flags().StringVar(&flagFormat, "format", ui.FormatTable, "Report format: "+strings.Join(ui.Formats, ", "))
	joinCmd.Flags().DurationVar(&flagSettle, "settle", time.Second, "Wait this long for retained state before printing the report")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig("")
	if err != nil {
		return err
	}
	targets := append(append([]string(nil), args...), cfg.AutoJoin...)
	if len(targets) == 0 && !flagFollow {
		return fmt.Errorf("nothing to join: pass a room name or link, or use --follow")
	}
	patch, err := parseAssignments(flagSet)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, closeSession, err := startSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSession()

	for _, target := range targets {
		if _, err := joinWithSpinner(ctx, s, target); err != nil {
			return err
		}
	}

	if len(patch) > 0 {
		if err := s.Set(patch); err != nil {
			return err
		}
	}

	if flagFollow {
		go followStdin(ctx, s)
	}
	if flagWatch || flagFollow {
		return watch(ctx, s, "roomsync")
	}

	if flagSettle > 0 && !settle(ctx, s, flagSettle) {
		return nil
	}
	rows := ui.RoomRows(s.Rooms.Rooms())
	if flagFormat == ui.FormatTable {
		return ui.RenderRoomTable(os.Stdout, rows, s.Rooms.Stats())
	}
	return ui.WriteReport(os.Stdout, flagFormat, rows, s.Protocol.Snapshot())
}

// settle gives retained state time to arrive before the report is printed.
// It reports false when ctx ended first.
func settle(ctx context.Context, s *session.Session, d time.Duration) bool {
	sp := ui.NewWaitingSpinner(fmt.Sprintf("%s Waiting %s for room state...", ui.IconWaiting, d))
	unsub := s.Store.Subscribe(func(keys []string) {
		sp.UpdateMessage(fmt.Sprintf("%s Received %s", ui.IconSync, strings.Join(keys, ", ")))
	})
	defer unsub()

	sp.Start()
	defer sp.Stop()
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// followStdin treats every stdin line as a location change.
func followStdin(ctx context.Context, s *session.Session) {
	locations := make(chan string)
	go func() {
		defer close(locations)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case locations <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	joinurl.Follow(ctx, locations, s.Rooms, func(name string, err error) {
		ui.PrintErrorf("join %s: %v", name, err)
	})
}

// watch runs the dashboard until ctx is done or the user quits.
func watch(ctx context.Context, s *session.Session, title string) error {
	dash := ui.NewDashboard(title)
	refresh := func() {
		dash.Refresh(ui.RoomRows(s.Rooms.Rooms()), s.Rooms.Stats(), s.Protocol.Snapshot())
	}

	unsubStats := s.Rooms.OnStats(func(registry.Stats) { refresh() })
	defer unsubStats()
	unsubRooms := s.Rooms.OnRoomEvent(func(ev room.Event) {
		name := ev.Room.Name()
		switch ev.Kind {
		case room.EventConnection:
			if ev.Value {
				dash.Log("%s connected to %s", ui.IconConnect, name)
			} else {
				dash.Log("%s left %s", ui.IconIdle, name)
			}
		case room.EventPeers:
			dash.Log("%s %s has %d peer(s)", ui.IconPeer, name, len(ev.Peers))
			refresh()
		case room.EventMessage:
			dash.Log("%s state from %s (%s)", ui.IconMessage, name, ui.FormatSize(int64(len(ev.Payload))))
		}
	})
	defer unsubRooms()
	unsubStore := s.Store.Subscribe(func(keys []string) {
		dash.Log("%s %s", ui.IconSync, strings.Join(keys, ", "))
		refresh()
	})
	defer unsubStore()

	dash.Start()
	refresh()
	select {
	case <-ctx.Done():
	case <-dash.Done():
	}
	dash.Stop()
	return nil
}
