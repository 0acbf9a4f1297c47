package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxLength is the longest room name (in bytes) the broker accepts.
const MaxLength = 128

var (
	ErrEmpty       = errors.New("topic is empty")
	ErrTooLong     = fmt.Errorf("topic exceeds %d bytes", MaxLength)
	ErrWildcard    = errors.New("topic contains a wildcard")
	ErrReserved    = errors.New("topic starts with reserved prefix '$'")
	ErrInvalidText = errors.New("topic is not valid UTF-8 text")
)

// Validate checks a room name against the topic naming rules used by the broker.
// Slashes are allowed so names like "team/a" work as hierarchical topics.
func Validate(name string) error {
	switch {
	case name == "":
		return ErrEmpty
	case len(name) > MaxLength:
		return ErrTooLong
	case !utf8.ValidString(name) || strings.ContainsRune(name, 0):
		return ErrInvalidText
	case strings.ContainsAny(name, "+#"):
		return ErrWildcard
	case strings.HasPrefix(name, "$"):
		return ErrReserved
	}
	return nil
}

// IsValid reports whether name passes Validate.
func IsValid(name string) bool {
	return Validate(name) == nil
}
