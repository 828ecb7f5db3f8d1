package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PeerRow is one line of the peer table.
type PeerRow struct {
	ID         string
	Name       string
	HasAudio   bool
	AudioMuted bool
	HasVideo   bool
	VideoMuted bool
	JoinedAt   time.Time
}

func newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.Bold, text.FgCyan}
	t.Style().Options.SeparateRows = false
	t.Style().Format.Footer = text.FormatDefault
	return t
}

func mediaCell(has, muted bool) string {
	switch {
	case !has:
		return "-"
	case muted:
		return "muted"
	}
	return "on"
}

// PeerTableView renders the room members other than ourselves.
func PeerTableView(peers []PeerRow, now time.Time) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No peers in the room")
	}

	t := newWriter()
	t.AppendHeader(table.Row{"#", "Name", "ID", "Audio", "Video", "In room"})
	for i, p := range peers {
		name := p.Name
		if name == "" {
			name = "-"
		}
		t.AppendRow(table.Row{
			i + 1,
			utils.TruncateString(name, 24),
			utils.TruncateString(p.ID, 12),
			mediaCell(p.HasAudio, p.AudioMuted),
			mediaCell(p.HasVideo, p.VideoMuted),
			utils.FormatTimeDuration(now.Sub(p.JoinedAt)),
		})
	}
	return t.Render()
}

// SummaryRow is one finished transfer.
type SummaryRow struct {
	Peer      string
	File      string
	Direction string
	Size      int64
	Status    string
	Duration  time.Duration
}

// TransferSummaryView renders finished transfers with a totals footer.
func TransferSummaryView(rows []SummaryRow) string {
	t := newWriter()
	t.AppendHeader(table.Row{"Peer", "File", "Direction", "Size", "Status", "Avg Speed"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})

	var total int64
	completed := 0
	for _, r := range rows {
		speed := "-"
		if r.Duration > 0 {
			speed = utils.FormatSpeed(float64(r.Size) / r.Duration.Seconds())
		}
		status := r.Status
		if status == StatusCompleted {
			completed++
			total += r.Size
			status = SuccessStyle.Render(status)
		} else {
			status = ErrorStyle.Render(status)
		}
		t.AppendRow(table.Row{
			utils.TruncateString(r.Peer, 16),
			utils.TruncateString(r.File, 32),
			r.Direction,
			utils.FormatSize(r.Size),
			status,
			speed,
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d completed", completed, len(rows)), "", utils.FormatSize(total), "", ""})
	return t.Render()
}

func RenderTransferSummary(rows []SummaryRow) {
	fmt.Println(TransferSummaryView(rows))
}
