package ui

import (
	"fmt"

	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FileTableItem represents a file in the table
type FileTableItem struct {
	Index int
	Name  string
	Size  int64
	Type  string
}

// FileTableView renders the files offered by --send.
func FileTableView(items []FileTableItem) string {
	if len(items) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.Index),
			utils.TruncateString(item.Name, 50),
			utils.FormatSize(item.Size),
			utils.TruncateString(item.Type, 20),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Name", "Size", "Type").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderFileTable(items []FileTableItem) {
	fmt.Println(FileTableView(items))
}

// RoomInfo is shown once the room has been entered.
type RoomInfo struct {
	RoomID   string
	SelfID   string
	Locked   bool
	ShareURL string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Joined room %s\n\n%s Your ID:  %s",
		IconRoom, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconPeer, MutedStyle.Render(r.SelfID),
	)
	if r.ShareURL != "" {
		content += fmt.Sprintf("\n%s Share:    %s", IconWeb, MutedStyle.Render(r.ShareURL))
	}
	if r.Locked {
		content += "\n\n" + BadgeStyle.Render(IconLock+" locked")
	}
	return RoomBoxStyle.Render(content)
}

func RenderRoomInfo(r RoomInfo) {
	fmt.Println(r.View())
}
