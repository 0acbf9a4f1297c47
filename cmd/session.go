package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/roomsync/internal/config"
	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/session"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/ui"
)

const closeTimeout = 5 * time.Second

func LoadConfig(listenAddr string) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Domain:       flagDomain,
		BrokerURL:    flagBroker,
		ShareBaseURL: flagShareBase,
		ListenAddr:   listenAddr,
		SyncKeys:     flagSyncKeys,
		ConfigFile:   flagConfig,
	})
	if err != nil {
		return nil, syncerr.NewError("load config", err)
	}
	return cfg, nil
}

// startSession launches the sync stack. The returned close func leaves every
// room.
func startSession(ctx context.Context, cfg *config.Config) (*session.Session, func(), error) {
	s := session.New(cfg)
	if err := s.Start(ctx); err != nil {
		return nil, nil, syncerr.NewError("start session", err)
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := s.Close(ctx); err != nil {
			ui.PrintWarningf("leaving rooms: %v", err)
		}
	}
	return s, closeFn, nil
}

// joinWithSpinner joins a room name or join link. A room that is already
// joined is reported, not treated as a failure.
func joinWithSpinner(ctx context.Context, s *session.Session, target string) (*room.Room, error) {
	sp := ui.NewConnectionSpinner(fmt.Sprintf("Joining %s...", target))
	sp.Start()
	r, err := s.JoinTarget(ctx, target)
	switch {
	case errors.Is(err, syncerr.ErrDuplicateRoom):
		sp.Stop()
		ui.PrintInfof("Already in %s", target)
		return nil, nil
	case err != nil:
		sp.Error(fmt.Sprintf("Could not join %s", target))
		return nil, err
	}
	sp.Success(fmt.Sprintf("Joined %s as %s (%d peer(s))", ui.BoldStyle.Render(r.Name()), r.PeerID(), len(r.Peers())))
	return r, nil
}

// parseAssignments turns key=value flags into a state patch. Values are JSON;
// anything that does not parse as JSON is taken as a plain string.
func parseAssignments(assignments []string) (map[string]any, error) {
	patch := make(map[string]any, len(assignments))
	for _, a := range assignments {
		key, raw, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, syncerr.WrapError("parse --set", syncerr.ErrBadArguments, fmt.Sprintf("%q is not key=value", a))
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		patch[key] = v
	}
	return patch, nil
}
