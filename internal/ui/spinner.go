package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner is a blocking-free line spinner for short CLI steps such as
// joining a room or archiving a directory.
type Spinner struct {
	out      io.Writer
	frames   spinner.Spinner
	interval time.Duration

	mu      sync.Mutex
	message string
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSpinner(message string, s spinner.Spinner, interval time.Duration) *Spinner {
	return &Spinner{
		out:      os.Stdout,
		frames:   s,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// NewSpinner creates a spinner for local work (Dot style).
func NewSpinner(message string) *Spinner {
	return newSpinner(message, spinner.Dot, 80*time.Millisecond)
}

// NewConnectionSpinner creates a spinner for network operations (Globe style).
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(message, spinner.Globe, 180*time.Millisecond)
}

func (s *Spinner) Start() *Spinner {
	go func() {
		defer close(s.stopped)
		frames := s.frames.Frames
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r\033[K%s %s", SpinnerStyle.Render(frames[i%len(frames)]), msg)

			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
	return s
}

// Stop clears the spinner line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *Spinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunConnectionSpinner starts a connection spinner and returns it.
func RunConnectionSpinner(message string) *Spinner {
	return NewConnectionSpinner(message).Start()
}

// RunSpinner starts a loading spinner and returns it.
func RunSpinner(message string) *Spinner {
	return NewSpinner(message).Start()
}
