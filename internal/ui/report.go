package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Report output formats. FormatTable is rendered with RenderRoomTable, the
// others with WriteReport.
const (
	FormatTable    = "table"
	FormatPlain    = "plain"
	FormatMarkdown = "markdown"
	FormatCSV      = "csv"
)

// Formats lists the accepted --format values.
var Formats = []string{FormatTable, FormatPlain, FormatMarkdown, FormatCSV}

// WriteReport renders the rooms and the synchronized state with go-pretty,
// for output that is piped rather than watched.
func WriteReport(w io.Writer, format string, rows []RoomRow, state map[string]any) error {
	rooms := table.NewWriter()
	rooms.SetTitle("Rooms")
	rooms.AppendHeader(table.Row{"Room", "State", "Peer ID", "Peers", "Sync"})
	for _, r := range rows {
		rooms.AppendRow(table.Row{r.Name, r.State, r.PeerID, len(r.Peers), syncLabel(r.InSync)})
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := table.NewWriter()
	values.SetTitle("State")
	values.AppendHeader(table.Row{"Key", "Value"})
	for _, k := range keys {
		values.AppendRow(table.Row{k, formatValue(state[k])})
	}

	var out []string
	for _, t := range []table.Writer{rooms, values} {
		switch format {
		case FormatPlain, "":
			t.SetStyle(table.StyleRounded)
			out = append(out, t.Render())
		case FormatMarkdown:
			out = append(out, t.RenderMarkdown())
		case FormatCSV:
			out = append(out, t.RenderCSV())
		default:
			return fmt.Errorf("unknown report format %q (want one of %s)", format, strings.Join(Formats[1:], ", "))
		}
	}
	_, err := fmt.Fprintln(w, strings.Join(out, "\n\n"))
	return err
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
