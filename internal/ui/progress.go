package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Transfer statuses shown in the board and the summary.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Transfer directions.
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

type progressKey struct {
	peer string
	file string
}

// ProgressItem is one transfer row.
type ProgressItem struct {
	Peer      string
	PeerName  string
	Name      string
	Direction string
	Total     int64
	Fraction  float64
	StartTime time.Time
	EndTime   time.Time
	Status    string
}

func (p *ProgressItem) done() bool { return p.Status != StatusActive }

func (p *ProgressItem) speed(now time.Time) float64 {
	end := now
	if p.done() {
		end = p.EndTime
	}
	elapsed := end.Sub(p.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return p.Fraction * float64(p.Total) / elapsed
}

// ProgressModel tracks every transfer of the session in start order.
// A peer has at most one transfer at a time, so the latest row for a
// (peer, file) pair is the live one.
type ProgressModel struct {
	mu    sync.RWMutex
	items []*ProgressItem
	live  map[progressKey]int
	bar   progress.Model
	now   func() time.Time
}

func NewProgressModel() *ProgressModel {
	return &ProgressModel{
		live: make(map[progressKey]int),
		bar: progress.New(
			progress.WithGradient(ProgressStart, ProgressEnd),
			progress.WithWidth(25),
			progress.WithoutPercentage(),
		),
		now: time.Now,
	}
}

// Track starts a row. Tracking a live key again restarts it.
func (m *ProgressModel) Track(peer, peerName, name, direction string, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old := m.item(peer, name); old != nil {
		old.Status = "restarted"
		old.EndTime = m.now()
	}
	m.live[progressKey{peer, name}] = len(m.items)
	m.items = append(m.items, &ProgressItem{
		Peer:      peer,
		PeerName:  peerName,
		Name:      name,
		Direction: direction,
		Total:     total,
		StartTime: m.now(),
		Status:    StatusActive,
	})
}

func (m *ProgressModel) item(peer, name string) *ProgressItem {
	i, ok := m.live[progressKey{peer, name}]
	if !ok {
		return nil
	}
	return m.items[i]
}

// SetProgress records a fraction in [0,1] for a live row.
func (m *ProgressModel) SetProgress(peer, name string, fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it := m.item(peer, name); it != nil && !it.done() && fraction > it.Fraction {
		it.Fraction = min(fraction, 1)
	}
}

// Finish closes a live row with status. Unknown rows are ignored.
func (m *ProgressModel) Finish(peer, name, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.item(peer, name)
	if it == nil || it.done() {
		return
	}
	it.Status = status
	it.EndTime = m.now()
	if status == StatusCompleted {
		it.Fraction = 1
	}
	delete(m.live, progressKey{peer, name})
}

// Active counts rows still in progress.
func (m *ProgressModel) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Summary returns finished rows for the summary table.
func (m *ProgressModel) Summary() []SummaryRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []SummaryRow
	for _, it := range m.items {
		if !it.done() {
			continue
		}
		peer := it.PeerName
		if peer == "" {
			peer = it.Peer
		}
		rows = append(rows, SummaryRow{
			Peer:      peer,
			File:      it.Name,
			Direction: it.Direction,
			Size:      it.Total,
			Status:    it.Status,
			Duration:  it.EndTime.Sub(it.StartTime),
		})
	}
	return rows
}

func (m *ProgressModel) SetWidth(w int) {
	m.mu.Lock()
	m.bar.Width = max(10, min(25, w-60))
	m.mu.Unlock()
}

// View renders live rows and the most recent finished ones.
func (m *ProgressModel) View(spinnerFrame string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	now := m.now()
	for _, it := range m.items {
		if it.done() && now.Sub(it.EndTime) > 5*time.Second {
			continue
		}

		var icon string
		nameStyle := lipgloss.NewStyle()
		switch {
		case it.Status == StatusCompleted:
			icon, nameStyle = IconSuccess, SuccessStyle
		case it.done():
			icon, nameStyle = IconError, ErrorStyle
		case it.Fraction > 0:
			icon = spinnerFrame
		default:
			icon, nameStyle = "○", MutedStyle
		}

		arrow := IconSend
		if it.Direction == DirectionReceive {
			arrow = IconReceive
		}
		peer := it.PeerName
		if peer == "" {
			peer = it.Peer
		}

		fmt.Fprintf(&b, "  %s %s %s ", icon, arrow,
			nameStyle.Width(28).Render(utils.TruncateString(it.Name+" · "+peer, 26)))
		b.WriteString(m.bar.ViewAs(it.Fraction))
		fmt.Fprintf(&b, " %5.1f%%", it.Fraction*100)

		if it.done() && it.Status != StatusCompleted {
			b.WriteString(" " + ErrorStyle.Render(it.Status))
		} else if speed := it.speed(now); speed > 0 {
			b.WriteString(MutedStyle.Render(" " + utils.FormatSpeed(speed)))
			if remaining := (1 - it.Fraction) * float64(it.Total); !it.done() && remaining > 0 {
				eta := time.Duration(remaining / speed * float64(time.Second))
				b.WriteString(MutedStyle.Render(" ETA: " + utils.FormatTimeDuration(eta)))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
