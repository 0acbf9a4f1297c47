// Package joinurl encodes room names into shareable links and follows links
// as they are opened.
package joinurl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/BioHazard786/roomsync/internal/room"
	"github.com/BioHazard786/roomsync/internal/syncerr"
	"github.com/BioHazard786/roomsync/internal/topic"
)

const fragmentPrefix = "join:"

var joinFragment = regexp.MustCompile(`^join:(.+)$`)

// ShareURL returns base with its fragment replaced by join:<room>, where the
// room name is percent-encoded.
func ShareURL(base, roomName string) (string, error) {
	if err := topic.Validate(roomName); err != nil {
		return "", &syncerr.Error{Op: "share url", Room: roomName, Err: syncerr.ErrInvalidRoomName, Details: err.Error()}
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse share base %q: %w", base, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("share base %q is not an absolute url", base)
	}

	// Set the raw fragment directly: the escaped form must survive as-is so
	// that a slash in the name does not read as a path separator.
	escaped := url.PathEscape(roomName)
	u.Fragment = fragmentPrefix + roomName
	u.RawFragment = fragmentPrefix + escaped
	return u.String(), nil
}

// ParseJoinRoom extracts the room name from a join link. It reports false
// when the link carries no join fragment or the name does not decode.
func ParseJoinRoom(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	m := joinFragment.FindStringSubmatch(u.EscapedFragment())
	if m == nil {
		return "", false
	}
	name, err := url.PathUnescape(m[1])
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

// Joiner connects to rooms by name.
type Joiner interface {
	ConnectToRoom(ctx context.Context, name string) (*room.Room, error)
}

// Follow parses every location received and joins the room it names, until
// locations is closed or ctx is done. Joining a room that is already joined is
// not an error. Other join failures go to onError when it is non-nil.
func Follow(ctx context.Context, locations <-chan string, joiner Joiner, onError func(name string, err error)) error {
	logger := slog.Default().With("component", "joinurl")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case loc, ok := <-locations:
			if !ok {
				return nil
			}
			name, ok := ParseJoinRoom(loc)
			if !ok {
				logger.Debug("location has no join fragment", "location", loc)
				continue
			}
			_, err := joiner.ConnectToRoom(ctx, name)
			switch {
			case err == nil:
				logger.Info("joined from link", "room", name)
			case errors.Is(err, syncerr.ErrDuplicateRoom):
				logger.Debug("already in room", "room", name)
			default:
				logger.Warn("join from link failed", "room", name, "error", err)
				if onError != nil {
					onError(name, err)
				}
			}
		}
	}
}
