package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/roomsync/internal/registry"
	"github.com/BioHazard786/roomsync/internal/room"
)

// RoomRow is one room as shown in tables and reports.
type RoomRow struct {
	Name   string
	State  string
	PeerID string
	Peers  []string
	InSync bool
}

// RoomRows snapshots rooms for display.
func RoomRows(rooms []*room.Room) []RoomRow {
	rows := make([]RoomRow, 0, len(rooms))
	for _, r := range rooms {
		rows = append(rows, RoomRow{
			Name:   r.Name(),
			State:  r.State().String(),
			PeerID: r.PeerID(),
			Peers:  r.Peers(),
			InSync: r.IsInSync(),
		})
	}
	return rows
}

func stateLabel(state string) string {
	if state == room.Connected.String() {
		return IconConnected + " " + state
	}
	return IconIdle + " " + state
}

func syncLabel(inSync bool) string {
	if inSync {
		return "in sync"
	}
	return "pending"
}

func peerList(peers []string) string {
	if len(peers) == 0 {
		return "-"
	}
	short := make([]string, len(peers))
	for i, p := range peers {
		short[i] = shortID(p)
	}
	return strings.Join(short, ", ")
}

func tableStyle(row, col int) lipgloss.Style {
	switch {
	case row == table.HeaderRow:
		return TableHeaderStyle
	case row%2 == 0:
		return TableRowStyle
	default:
		return TableRowAltStyle
	}
}

// RoomTableView renders rooms using lipgloss/table
func RoomTableView(rows []RoomRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No rooms")
	}

	var data [][]string
	for i, r := range rows {
		data = append(data, []string{
			fmt.Sprintf("%d", i+1),
			truncateString(r.Name, 40),
			stateLabel(r.State),
			shortID(r.PeerID),
			truncateString(peerList(r.Peers), 40),
			syncLabel(r.InSync),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Room", "State", "You", "Peers", "Sync").
		Rows(data...).
		StyleFunc(tableStyle)

	return tbl.Render()
}

// RenderRoomTable writes the room table followed by the aggregates.
func RenderRoomTable(w io.Writer, rows []RoomRow, stats registry.Stats) error {
	_, err := fmt.Fprintf(w, "%s\n%s\n", RoomTableView(rows), StatsView(stats))
	return err
}

// StatsView renders the registry aggregates.
func StatsView(s registry.Stats) string {
	rows := [][]string{
		{"Rooms", fmt.Sprintf("%d", s.Rooms)},
		{"Connected", fmt.Sprintf("%d", s.ConnectedRooms)},
		{"Participants", fmt.Sprintf("%d", s.TotalParticipants)},
		{"Connecting", fmt.Sprintf("%t", s.IsAnyConnecting)},
		{"All in sync", fmt.Sprintf("%t", s.AllRoomsInSync)},
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(tableStyle)

	return tbl.Render()
}

// ShareInfo is the box printed by `roomsync share`.
type ShareInfo struct {
	Room   string
	Link   string
	Broker string
}

func (s ShareInfo) View() string {
	content := fmt.Sprintf("%s Room Ready!\n\n%s Room:    %s\n%s Link:    %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(s.Room),
		IconLink, MutedStyle.Render(s.Link),
	)
	if s.Broker != "" {
		content += fmt.Sprintf("\n%s Broker:  %s", IconWeb, MutedStyle.Render(s.Broker))
	}
	return ShareBoxStyle.Render(content)
}
