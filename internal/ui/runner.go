package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Offer is an incoming file transfer request waiting for an answer.
type Offer struct {
	Peer     string
	PeerName string
	File     string
	Size     int64
}

// SessionOptions wires the live view back into the command.
type SessionOptions struct {
	// OnAnswer is called with the user's decision on the oldest offer.
	OnAnswer func(o Offer, accept bool)
	// OnQuit is called once when the user asks to leave.
	OnQuit func()
	// Plain disables the interactive view; output is printed line by line.
	Plain bool
}

// SessionUI is the live view of a joined room: status line, pending offers
// and the transfer board. Progress is kept in Progress and redrawn on a
// ticker, so callers only mutate state.
type SessionUI struct {
	Progress *ProgressModel

	mu      sync.Mutex
	program *tea.Program
	model   *sessionModel
	wg      sync.WaitGroup
	plain   bool
}

type sessionModel struct {
	mu        sync.Mutex
	roomID    string
	peers     int
	locked    bool
	recording bool
	offers    []Offer
	leaving   bool

	progress *ProgressModel
	spinner  spinner.Model
	opts     SessionOptions
	quitOnce sync.Once
}

// TickMsg is sent periodically to redraw progress.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Interactive reports whether stdout is a terminal.
func Interactive() bool {
	fi, err := os.Stdout.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func NewSessionUI(roomID string, opts SessionOptions) *SessionUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	progress := NewProgressModel()
	return &SessionUI{
		Progress: progress,
		plain:    opts.Plain,
		model: &sessionModel{
			roomID:   roomID,
			progress: progress,
			spinner:  s,
			opts:     opts,
		},
	}
}

// Start runs the view in a goroutine. In plain mode it does nothing.
func (ui *SessionUI) Start() {
	if ui.plain {
		return
	}
	p := tea.NewProgram(ui.model)
	ui.mu.Lock()
	ui.program = p
	ui.mu.Unlock()

	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Stop ends the view and waits for the terminal to be restored. Later
// output goes straight to stdout.
func (ui *SessionUI) Stop() {
	ui.mu.Lock()
	p := ui.program
	ui.program = nil
	ui.mu.Unlock()

	if p != nil {
		p.Quit()
	}
	ui.wg.Wait()
}

// SetAnswerFunc sets the offer callback. Call it before Start.
func (ui *SessionUI) SetAnswerFunc(f func(o Offer, accept bool)) {
	ui.model.opts.OnAnswer = f
}

// SetQuitFunc sets the leave callback. Call it before Start.
func (ui *SessionUI) SetQuitFunc(f func()) {
	ui.model.opts.OnQuit = f
}

// SetRoom changes the room name in the status line.
func (ui *SessionUI) SetRoom(roomID string) {
	ui.model.mu.Lock()
	ui.model.roomID = roomID
	ui.model.mu.Unlock()
}

// Println prints above the live view.
func (ui *SessionUI) Println(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	ui.mu.Lock()
	p := ui.program
	ui.mu.Unlock()

	if p == nil {
		fmt.Println(line)
		return
	}
	p.Println(line)
}

func (ui *SessionUI) SetPeers(n int) {
	ui.model.mu.Lock()
	ui.model.peers = n
	ui.model.mu.Unlock()
}

func (ui *SessionUI) SetLocked(locked bool) {
	ui.model.mu.Lock()
	ui.model.locked = locked
	ui.model.mu.Unlock()
}

func (ui *SessionUI) SetRecording(active bool) {
	ui.model.mu.Lock()
	ui.model.recording = active
	ui.model.mu.Unlock()
}

// SetLeaving switches the status line to the leaving state.
func (ui *SessionUI) SetLeaving() {
	ui.model.mu.Lock()
	ui.model.leaving = true
	ui.model.mu.Unlock()
}

// Ask queues an offer. In plain mode there is nobody to ask, so offers are
// declined unless the caller answers them itself.
func (ui *SessionUI) Ask(o Offer) {
	if ui.plain {
		ui.Println("%s %s offers %s (%s)", IconQuestion, displayName(o.PeerName, o.Peer), o.File, utils.FormatSize(o.Size))
		if ui.model.opts.OnAnswer != nil {
			ui.model.opts.OnAnswer(o, false)
		}
		return
	}
	ui.model.mu.Lock()
	ui.model.offers = append(ui.model.offers, o)
	ui.model.mu.Unlock()
}

// Withdraw drops a pending offer that the peer cancelled.
func (ui *SessionUI) Withdraw(peer, file string) {
	ui.model.mu.Lock()
	defer ui.model.mu.Unlock()
	for i, o := range ui.model.offers {
		if o.Peer == peer && o.File == file {
			ui.model.offers = append(ui.model.offers[:i], ui.model.offers[i+1:]...)
			return
		}
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return utils.TruncateString(id, 12)
}

func (m *sessionModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func (m *sessionModel) answer(accept bool) {
	m.mu.Lock()
	if len(m.offers) == 0 {
		m.mu.Unlock()
		return
	}
	o := m.offers[0]
	m.offers = m.offers[1:]
	m.mu.Unlock()

	if m.opts.OnAnswer != nil {
		m.opts.OnAnswer(o, accept)
	}
}

func (m *sessionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "Y":
			m.answer(true)
		case "n", "N":
			m.answer(false)
		case "q", "ctrl+c":
			m.quitOnce.Do(func() {
				m.mu.Lock()
				m.leaving = true
				m.mu.Unlock()
				if m.opts.OnQuit != nil {
					go m.opts.OnQuit()
				}
			})
		}

	case tea.WindowSizeMsg:
		m.progress.SetWidth(msg.Width)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()
	}

	return m, nil
}

func (m *sessionModel) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder

	status := fmt.Sprintf("%s %s", IconRoom, TitleStyle.Render(m.roomID))
	if m.locked {
		status += " " + BadgeStyle.Render(IconLock+" locked")
	}
	if m.recording {
		status += " " + BadgeStyle.Render(IconRecord+" rec")
	}
	b.WriteString(status + "\n")

	switch {
	case m.leaving:
		fmt.Fprintf(&b, "%s Leaving room...\n", m.spinner.View())
	case m.peers == 0:
		fmt.Fprintf(&b, "%s Waiting for peers...\n", m.spinner.View())
	default:
		fmt.Fprintf(&b, "%s %d peer(s) connected\n", IconPeer, m.peers)
	}

	if board := m.progress.View(m.spinner.View()); board != "" {
		b.WriteString("\n" + board)
	}

	if len(m.offers) > 0 {
		o := m.offers[0]
		fmt.Fprintf(&b, "\n%s %s offers %s (%s). Accept? %s",
			IconQuestion,
			BoldStyle.Render(displayName(o.PeerName, o.Peer)),
			BoldStyle.Render(o.File),
			utils.FormatSize(o.Size),
			PromptStyle.Render("[y/n]"))
		if more := len(m.offers) - 1; more > 0 {
			b.WriteString(MutedStyle.Render(fmt.Sprintf(" (+%d more)", more)))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + MutedStyle.Render("Press q to leave"))
	return b.String()
}
