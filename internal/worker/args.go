package worker

import (
	"fmt"

	"github.com/BioHazard786/roomsync/internal/syncerr"
)

// Argument helpers accept both native Go values and their JSON-decoded forms.

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", syncerr.ErrBadArguments, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", syncerr.ErrBadArguments, i, args[i])
	}
	return s, nil
}

func argBytes(args []any, i int) ([]byte, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", syncerr.ErrBadArguments, i)
	}
	switch v := args[i].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: argument %d is %T, want bytes", syncerr.ErrBadArguments, i, args[i])
	}
}

func argQoS(args []any, i int) (uint8, error) {
	if i >= len(args) {
		return 0, nil
	}
	var n int64
	switch v := args[i].(type) {
	case uint8:
		n = int64(v)
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
	default:
		return 0, fmt.Errorf("%w: argument %d is %T, want qos", syncerr.ErrBadArguments, i, args[i])
	}
	if n < 0 || n > 2 {
		return 0, fmt.Errorf("%w: qos %d out of range", syncerr.ErrBadArguments, n)
	}
	return uint8(n), nil
}

func argBool(args []any, i int) (bool, error) {
	if i >= len(args) {
		return false, nil
	}
	b, ok := args[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: argument %d is %T, want bool", syncerr.ErrBadArguments, i, args[i])
	}
	return b, nil
}
