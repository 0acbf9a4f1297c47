package cmd

import (
	"errors"
	"reflect"
	"testing"

	"github.com/BioHazard786/roomsync/internal/syncerr"
)

func TestParseAssignments(t *testing.T) {
	patch, err := parseAssignments([]string{
		`watchlists=["AAPL","MSFT"]`,
		`theme=dark`,
		` limit = 3`,
		`note="a=b"`,
	})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := map[string]any{
		"watchlists": []any{"AAPL", "MSFT"},
		"theme":      "dark",
		"limit":      float64(3),
		"note":       "a=b",
	}
	if !reflect.DeepEqual(patch, want) {
		t.Fatalf("patch = %#v, want %#v", patch, want)
	}
}

func TestParseAssignmentsRejectsMissingKey(t *testing.T) {
	for _, in := range []string{"novalue", "=1"} {
		if _, err := parseAssignments([]string{in}); !errors.Is(err, syncerr.ErrBadArguments) {
			t.Errorf("parseAssignments(%q) err = %v, want ErrBadArguments", in, err)
		}
	}
}
