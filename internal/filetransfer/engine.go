// Package filetransfer runs the per-peer file transfer protocol over data
// channels: request, permission, chunked transfer and completion, with
// cancel and drop from any state.
//
// An Engine holds at most one transfer per peer. Each transfer is guarded
// by its own lock; the engine lock only protects the session table and is
// always taken after a session lock, never before.
package filetransfer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/files"
	"github.com/BioHazard786/roomlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Channel is the data path to one peer.
type Channel interface {
	Send(data []byte) error
	IsOpen() bool
	BufferedAmount() uint64
	OnBufferedAmountLow(threshold uint64, f func())
}

// Channels resolves peers to their data channels.
type Channels interface {
	Channel(peerID string) (Channel, bool)
	// OpenPeers lists peers whose channel is open, in a stable order.
	OpenPeers() []string
}

// Notifier receives transfer events. Methods are called with the transfer's
// lock held: they must not block or call back into the Engine.
type Notifier interface {
	TransferRequested(peerID string, req Request)
	TransferPermission(peerID, fileName string, accepted bool)
	TransferProgress(peerID, fileName string, role Role, fraction float64)
	TransferDropped(peerID, fileName, reason string, explicit bool)
	TransferCompleted(peerID, fileName string, role Role, path string)
}

type session struct {
	mu       sync.Mutex
	peerID   string
	fileName string
	role     Role
	state    State
	size     uint64
	done     uint64
	path     string
	progress float64
	writer   *fileWriter
	timer    *time.Timer
	deadline time.Time
	stop     chan struct{}
	ended    bool
}

func (s *session) info() Info {
	return Info{
		PeerID:   s.peerID,
		FileName: s.fileName,
		Role:     s.role,
		State:    s.state,
		Size:     s.size,
		Done:     s.done,
		Path:     s.path,
	}
}

type Engine struct {
	opts     Options
	channels Channels
	notify   Notifier
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	pumps conc.WaitGroup
}

func New(channels Channels, notify Notifier, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Engine{
		opts:     opts,
		channels: channels,
		notify:   notify,
		log:      opts.Logger.With().Str("module", "filetransfer").Logger(),
		sessions: make(map[string]*session),
	}
}

// Busy reports whether peerID has an active transfer.
func (e *Engine) Busy(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[peerID]
	return ok
}

// Get returns the active transfer with peerID.
func (e *Engine) Get(peerID string) (Info, bool) {
	e.mu.Lock()
	s := e.sessions[peerID]
	e.mu.Unlock()
	if s == nil {
		return Info{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), !s.ended
}

// Active returns a snapshot of all transfers in progress.
func (e *Engine) Active() []Info {
	e.mu.Lock()
	list := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.Unlock()

	out := make([]Info, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		if !s.ended {
			out = append(out, s.info())
		}
		s.mu.Unlock()
	}
	return out
}

// SendRequest offers the file at path to peerID.
func (e *Engine) SendRequest(path string, asset AssetType, peerID string) error {
	info, err := files.Inspect(path)
	if err != nil {
		return WrapError("request", path, ErrInvalidFile, err.Error())
	}
	return e.request(info, asset, peerID, false)
}

// Broadcast offers the file to every peer with an open, idle channel and
// returns the peers it was offered to. No free peer is not an error.
func (e *Engine) Broadcast(path string, asset AssetType) ([]string, error) {
	info, err := files.Inspect(path)
	if err != nil {
		return nil, WrapError("broadcast", path, ErrInvalidFile, err.Error())
	}

	var sent []string
	for _, peerID := range e.channels.OpenPeers() {
		if e.Busy(peerID) {
			continue
		}
		if err := e.request(info, asset, peerID, true); err != nil {
			e.log.Debug().Err(err).Str("peer", peerID).Msg("broadcast request skipped")
			continue
		}
		sent = append(sent, peerID)
	}
	return sent, nil
}

func (e *Engine) request(info files.FileInfo, asset AssetType, peerID string, public bool) error {
	if ch, ok := e.channels.Channel(peerID); !ok || !ch.IsOpen() {
		return NewFileError("request", info.Name, ErrChannelNotOpen)
	}

	s := &session{
		peerID:   peerID,
		fileName: info.Name,
		role:     RoleSender,
		state:    StateRequested,
		size:     uint64(info.Size),
		path:     info.Path,
		stop:     make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return NewFileError("request", info.Name, ErrEngineClosed)
	}
	if _, busy := e.sessions[peerID]; busy {
		e.mu.Unlock()
		return NewFileError("request", info.Name, ErrTransferActive)
	}
	e.sessions[peerID] = s
	e.mu.Unlock()

	s.mu.Lock()
	e.touch(s)
	s.mu.Unlock()

	err := e.send(peerID, protocol.MessageTypeFileRequest, protocol.FileRequestPayload{
		FileName:  info.Name,
		Size:      uint64(info.Size),
		MimeType:  info.Type,
		AssetType: int(asset),
		Public:    public,
	})
	if err != nil {
		s.mu.Lock()
		if !s.ended {
			e.end(s, StateDropped)
		}
		s.mu.Unlock()
		return WrapError("request", info.Name, ErrChannelNotOpen, err.Error())
	}

	e.log.Debug().Str("peer", peerID).Str("file", info.Name).Uint64("size", s.size).Msg("file offered")
	return nil
}

// Accept answers an incoming request. Accepting opens the destination file
// and lets the sender start; rejecting ends the transfer.
func (e *Engine) Accept(accept bool, fileName, peerID string) error {
	s := e.lookup(peerID, fileName)
	if s == nil {
		return NewFileError("accept", fileName, ErrNoTransfer)
	}

	s.mu.Lock()
	if s.ended || s.role != RoleReceiver || s.state != StateRequested {
		s.mu.Unlock()
		return NewFileError("accept", fileName, ErrNoTransfer)
	}

	if !accept {
		e.end(s, StateRejected)
		s.mu.Unlock()
		e.sendQuiet(peerID, protocol.MessageTypeFileResponse, protocol.FileResponsePayload{FileName: fileName})
		return nil
	}

	w, err := newFileWriter(e.opts.OutputDir, fileName)
	if err != nil {
		e.end(s, StateDropped)
		e.notify.TransferDropped(peerID, fileName, ReasonWriteFailed, false)
		s.mu.Unlock()
		e.sendCancel(peerID, fileName, ReasonWriteFailed, false)
		return err
	}
	s.writer = w
	s.path = w.path
	s.state = StatePermitted
	e.touch(s)
	s.mu.Unlock()

	err = e.send(peerID, protocol.MessageTypeFileResponse, protocol.FileResponsePayload{FileName: fileName, Accept: true})
	if err != nil {
		e.fail(s, ReasonChannel)
		return WrapError("accept", fileName, ErrChannelNotOpen, err.Error())
	}
	return nil
}

// Cancel ends a transfer explicitly and tells the remote.
func (e *Engine) Cancel(fileName, peerID string) error {
	s := e.lookup(peerID, fileName)
	if s == nil {
		return NewFileError("cancel", fileName, ErrNoTransfer)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return NewFileError("cancel", fileName, ErrNoTransfer)
	}
	e.end(s, StateCancelled)
	e.notify.TransferDropped(peerID, fileName, ReasonCancelled, true)
	s.mu.Unlock()

	e.sendCancel(peerID, fileName, ReasonCancelled, true)
	return nil
}

// PeerGone drops the transfer with a peer whose channel went away.
func (e *Engine) PeerGone(peerID, reason string) {
	e.mu.Lock()
	s := e.sessions[peerID]
	e.mu.Unlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	e.end(s, StateDropped)
	e.notify.TransferDropped(peerID, s.fileName, reason, false)
}

// Close cancels every transfer, tells the remotes and waits for pumps to
// exit. Later requests fail with ErrEngineClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	list := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	e.mu.Unlock()

	for _, s := range list {
		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			continue
		}
		e.end(s, StateCancelled)
		e.notify.TransferDropped(s.peerID, s.fileName, ReasonDisconnected, true)
		s.mu.Unlock()
		e.sendCancel(s.peerID, s.fileName, ReasonDisconnected, true)
	}
	e.pumps.Wait()
}

// HandleFrame processes a file-transfer frame received from peerID.
// Frames for unknown or finished transfers are ignored.
func (e *Engine) HandleFrame(peerID string, msg protocol.Message) error {
	switch msg.Type {
	case protocol.MessageTypeFileRequest:
		var p protocol.FileRequestPayload
		if err := msg.DecodePayload(&p); err != nil {
			return NewFileError("decode request", "", err)
		}
		e.onRequest(peerID, p)
	case protocol.MessageTypeFileResponse:
		var p protocol.FileResponsePayload
		if err := msg.DecodePayload(&p); err != nil {
			return NewFileError("decode response", "", err)
		}
		e.onResponse(peerID, p)
	case protocol.MessageTypeChunk:
		var p protocol.ChunkPayload
		if err := msg.DecodePayload(&p); err != nil {
			return NewFileError("decode chunk", "", err)
		}
		e.onChunk(peerID, p)
	case protocol.MessageTypeFileDone:
		var p protocol.FileDonePayload
		if err := msg.DecodePayload(&p); err != nil {
			return NewFileError("decode done", "", err)
		}
		e.onDone(peerID, p)
	case protocol.MessageTypeFileCancel:
		var p protocol.FileCancelPayload
		if err := msg.DecodePayload(&p); err != nil {
			return NewFileError("decode cancel", "", err)
		}
		e.onCancel(peerID, p)
	}
	return nil
}

func validName(name string) bool {
	base := filepath.Base(name)
	return name != "" && base == name && base != "." && base != ".." && base != string(filepath.Separator)
}

func (e *Engine) onRequest(peerID string, p protocol.FileRequestPayload) {
	if !validName(p.FileName) {
		e.sendCancel(peerID, p.FileName, ReasonInvalidName, false)
		return
	}

	s := &session{
		peerID:   peerID,
		fileName: p.FileName,
		role:     RoleReceiver,
		state:    StateRequested,
		size:     p.Size,
		stop:     make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, busy := e.sessions[peerID]; busy {
		e.mu.Unlock()
		e.log.Debug().Str("peer", peerID).Str("file", p.FileName).Msg("refusing request while busy")
		e.sendCancel(peerID, p.FileName, ReasonBusy, false)
		return
	}
	e.sessions[peerID] = s
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.touch(s)
	e.notify.TransferRequested(peerID, Request{
		FileName:  p.FileName,
		Size:      p.Size,
		MimeType:  p.MimeType,
		AssetType: AssetType(p.AssetType),
		Public:    p.Public,
	})
}

func (e *Engine) onResponse(peerID string, p protocol.FileResponsePayload) {
	s := e.lookup(peerID, p.FileName)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.ended || s.role != RoleSender || s.state != StateRequested {
		s.mu.Unlock()
		return
	}
	if !p.Accept {
		e.end(s, StateRejected)
		e.notify.TransferPermission(peerID, p.FileName, false)
		s.mu.Unlock()
		return
	}
	s.state = StatePermitted
	e.touch(s)
	e.notify.TransferPermission(peerID, p.FileName, true)
	s.mu.Unlock()

	ch, ok := e.channels.Channel(peerID)
	if !ok {
		e.fail(s, ReasonChannel)
		return
	}
	e.pumps.Go(func() { e.pump(s, ch) })
}

func (e *Engine) onChunk(peerID string, p protocol.ChunkPayload) {
	s := e.lookup(peerID, p.FileName)
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.ended || s.role != RoleReceiver || (s.state != StatePermitted && s.state != StateInProgress) {
		s.mu.Unlock()
		return
	}

	if _, err := s.writer.WriteAt(p.Bytes, p.Offset); err != nil {
		e.log.Warn().Err(err).Str("peer", peerID).Msg("chunk write failed")
		e.end(s, StateDropped)
		e.notify.TransferDropped(peerID, p.FileName, ReasonWriteFailed, false)
		s.mu.Unlock()
		e.sendCancel(peerID, p.FileName, ReasonWriteFailed, false)
		return
	}
	s.state = StateInProgress
	s.done = s.writer.received
	e.touch(s)

	if !p.Final {
		if s.size > 0 && s.done < s.size {
			e.progress(s, float64(s.done)/float64(s.size))
		}
		s.mu.Unlock()
		return
	}

	w := s.writer
	s.writer = nil
	if err := w.Close(true); err != nil {
		os.Remove(w.path)
		e.end(s, StateDropped)
		e.notify.TransferDropped(peerID, p.FileName, ReasonWriteFailed, false)
		s.mu.Unlock()
		e.sendCancel(peerID, p.FileName, ReasonWriteFailed, false)
		return
	}
	e.progress(s, 1)
	e.end(s, StateCompleted)
	e.notify.TransferCompleted(peerID, p.FileName, RoleReceiver, s.path)
	s.mu.Unlock()

	e.sendQuiet(peerID, protocol.MessageTypeFileDone, protocol.FileDonePayload{FileName: p.FileName})
}

func (e *Engine) onDone(peerID string, p protocol.FileDonePayload) {
	s := e.lookup(peerID, p.FileName)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.role != RoleSender || s.progress < 1 {
		return
	}
	e.end(s, StateCompleted)
	e.notify.TransferCompleted(peerID, p.FileName, RoleSender, s.path)
}

func (e *Engine) onCancel(peerID string, p protocol.FileCancelPayload) {
	s := e.lookup(peerID, p.FileName)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	state := StateDropped
	if p.Explicit {
		state = StateCancelled
	}
	e.end(s, state)
	e.notify.TransferDropped(peerID, p.FileName, p.Reason, p.Explicit)
}

// pump streams the file to the receiver. Progress is reported for the
// bytes handed to the channel, so it reaches 1.0 before the receiver's
// acknowledgement completes the transfer.
func (e *Engine) pump(s *session, ch Channel) {
	f, err := os.Open(s.path)
	if err != nil {
		e.log.Warn().Err(err).Str("file", s.path).Msg("open for sending failed")
		e.fail(s, ReasonReadFailed)
		return
	}
	defer f.Close()

	w := newWindow(ch)
	sizer := newChunkSizer()
	buf := make([]byte, maxChunkSize)
	var offset uint64

	for {
		if err := w.wait(s.stop); err != nil {
			if !errors.Is(err, errStopped) {
				e.fail(s, ReasonChannel)
			}
			return
		}

		n, err := io.ReadFull(f, buf[:sizer.size()])
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			e.fail(s, ReasonReadFailed)
			return
		}
		final := eof || offset+uint64(n) >= s.size

		data, err := protocol.Encode(protocol.MessageTypeChunk, protocol.ChunkPayload{
			FileName: s.fileName,
			Offset:   offset,
			Bytes:    buf[:n],
			Final:    final,
		})
		if err != nil {
			e.fail(s, ReasonReadFailed)
			return
		}
		offset += uint64(n)

		s.mu.Lock()
		if s.ended {
			s.mu.Unlock()
			return
		}
		s.state = StateInProgress
		s.done = offset
		e.touch(s)
		switch {
		case final:
			e.progress(s, 1)
		case offset < s.size:
			e.progress(s, float64(offset)/float64(s.size))
		}
		s.mu.Unlock()

		if err := ch.Send(data); err != nil {
			e.fail(s, ReasonChannel)
			return
		}
		sizer.record(n)

		if final {
			return
		}
	}
}

// progress reports fraction if it moves forward. Callers pass 1 only for
// the last chunk. Caller holds s.mu.
func (e *Engine) progress(s *session, fraction float64) {
	fraction = min(fraction, 1)
	if fraction <= s.progress {
		return
	}
	s.progress = fraction
	e.notify.TransferProgress(s.peerID, s.fileName, s.role, fraction)
}

// fail drops s and tells the remote, if s is still active.
func (e *Engine) fail(s *session, reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	e.end(s, StateDropped)
	e.notify.TransferDropped(s.peerID, s.fileName, reason, false)
	s.mu.Unlock()

	e.sendCancel(s.peerID, s.fileName, reason, false)
}

// end moves s to a terminal state and removes it from the table before
// the caller notifies. Caller holds s.mu.
func (e *Engine) end(s *session, state State) {
	s.state = state
	s.ended = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.stop)
	if s.writer != nil {
		if err := s.writer.Close(false); err != nil {
			e.log.Debug().Err(err).Str("file", s.path).Msg("close partial file")
		}
		s.writer = nil
	}

	e.mu.Lock()
	if e.sessions[s.peerID] == s {
		delete(e.sessions, s.peerID)
	}
	e.mu.Unlock()

	e.log.Debug().Str("peer", s.peerID).Str("file", s.fileName).Str("state", state.String()).Msg("transfer ended")
}

// touch pushes the inactivity deadline out. Caller holds s.mu.
func (e *Engine) touch(s *session) {
	s.deadline = time.Now().Add(e.opts.Timeout)
	if s.timer == nil {
		s.timer = time.AfterFunc(e.opts.Timeout, func() { e.expire(s) })
		return
	}
	s.timer.Reset(e.opts.Timeout)
}

func (e *Engine) expire(s *session) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if wait := time.Until(s.deadline); wait > 0 {
		s.timer.Reset(wait)
		s.mu.Unlock()
		return
	}
	e.end(s, StateDropped)
	e.notify.TransferDropped(s.peerID, s.fileName, ReasonTimeout, false)
	s.mu.Unlock()

	e.sendCancel(s.peerID, s.fileName, ReasonTimeout, false)
}

func (e *Engine) lookup(peerID, fileName string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[peerID]
	if s == nil || s.fileName != fileName {
		return nil
	}
	return s
}

func (e *Engine) send(peerID, t string, payload any) error {
	ch, ok := e.channels.Channel(peerID)
	if !ok || !ch.IsOpen() {
		return ErrChannelNotOpen
	}
	data, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	return ch.Send(data)
}

func (e *Engine) sendQuiet(peerID, t string, payload any) {
	if err := e.send(peerID, t, payload); err != nil {
		e.log.Debug().Err(err).Str("peer", peerID).Str("type", t).Msg("frame not sent")
	}
}

func (e *Engine) sendCancel(peerID, fileName, reason string, explicit bool) {
	e.sendQuiet(peerID, protocol.MessageTypeFileCancel, protocol.FileCancelPayload{
		FileName: fileName,
		Reason:   reason,
		Explicit: explicit,
	})
}
