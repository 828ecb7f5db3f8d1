package cmd

import (
	"errors"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/files"
	"github.com/BioHazard786/roomlink/internal/observer"
	"github.com/BioHazard786/roomlink/internal/room"
	"github.com/BioHazard786/roomlink/internal/ui"
	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/rs/zerolog"
)

// retryInterval spaces offers to a peer whose channel is still opening.
const retryInterval = 500 * time.Millisecond

// roomSession drives one joined room from the command line: it prints room
// events, answers offers and pushes the --send files to every peer, one
// file at a time per peer.
type roomSession struct {
	ctrl         *room.Controller
	view         *ui.SessionUI
	outgoing     []files.FileInfo
	asset        filetransfer.AssetType
	autoAccept   bool
	exitWhenDone bool
	log          zerolog.Logger

	handles []*observer.Handle

	mu        sync.Mutex
	names     map[string]string
	queues    map[string][]files.FileInfo
	inFlight  map[string]files.FileInfo
	served    int
	lastPeers []room.Peer
	reason    string
	leaving   bool
	done      chan struct{}
}

func newRoomSession(ctrl *room.Controller, view *ui.SessionUI, log zerolog.Logger) *roomSession {
	return &roomSession{
		ctrl:     ctrl,
		view:     view,
		log:      log,
		asset:    filetransfer.AssetFile,
		names:    make(map[string]string),
		queues:   make(map[string][]files.FileInfo),
		inFlight: make(map[string]files.FileInfo),
		done:     make(chan struct{}),
	}
}

// register installs every handler. The handles live as long as the session.
func (s *roomSession) register() {
	s.handles = []*observer.Handle{
		s.ctrl.SetLifecycleHandler(room.LifecycleFuncs{
			Disconnected:     s.onDisconnected,
			Warning:          func(msg string) { s.view.Println("%s %s", ui.IconWarning, ui.WarningStyle.Render(msg)) },
			LockChanged:      s.onLockChanged,
			RecordingChanged: s.onRecordingChanged,
		}),
		s.ctrl.SetPeerHandler(room.PeerFuncs{
			Joined:   s.onPeerJoined,
			Left:     s.onPeerLeft,
			UserInfo: s.onUserInfo,
		}),
		s.ctrl.SetMediaHandler(room.MediaFuncs{
			AudioToggled: func(peerID string, muted bool) {
				s.view.Println("%s %s %s audio", ui.IconPeer, s.name(peerID), onOff(muted))
			},
			VideoToggled: func(peerID string, muted bool) {
				s.view.Println("%s %s %s video", ui.IconPeer, s.name(peerID), onOff(muted))
			},
		}),
		s.ctrl.SetMessageHandler(room.MessageFuncs{
			Custom: s.onMessage,
			DC:     s.onMessage,
			Binary: func(peerID string, data []byte) {
				s.view.Println("%s %s sent %s of binary data", ui.IconMessage, s.name(peerID), utils.FormatSize(int64(len(data))))
			},
		}),
		s.ctrl.SetTransferHandler(room.TransferFuncs{
			Request:    s.onRequest,
			Permission: s.onPermission,
			Progress: func(peerID, fileName string, _ filetransfer.Role, fraction float64) {
				s.view.Progress.SetProgress(peerID, fileName, fraction)
			},
			Dropped:   s.onDropped,
			Completed: s.onCompleted,
		}),
	}
}

func (s *roomSession) unregister() {
	for _, h := range s.handles {
		h.Close()
	}
}

func onOff(muted bool) string {
	if muted {
		return "muted"
	}
	return "unmuted"
}

// peerName reads a display name from user info: either a plain string or
// a map with a "name" entry.
func peerName(info value.Value) string {
	if n, ok := info.Get("name"); ok {
		info = n
	}
	if s, ok := info.Str(); ok {
		return s
	}
	return ""
}

func (s *roomSession) name(peerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.names[peerID]; n != "" {
		return n
	}
	return utils.TruncateString(peerID, 12)
}

func (s *roomSession) onDisconnected(reason string) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	if reason != room.ReasonLeft {
		s.view.Println("%s disconnected: %s", ui.IconError, reason)
	}
	close(s.done)
}

func (s *roomSession) onLockChanged(locked bool, peerID string) {
	s.view.SetLocked(locked)
	verb := "unlocked"
	if locked {
		verb = "locked"
	}
	s.view.Println("%s room %s by %s", ui.IconLock, verb, s.name(peerID))
}

func (s *roomSession) onRecordingChanged(active bool) {
	s.view.SetRecording(active)
	if active {
		s.view.Println("%s recording started", ui.IconRecord)
	} else {
		s.view.Println("%s recording stopped", ui.IconRecord)
	}
}

func (s *roomSession) onPeerJoined(p room.Peer) {
	s.mu.Lock()
	s.names[p.ID] = peerName(p.UserInfo)
	if len(s.outgoing) > 0 {
		s.queues[p.ID] = append([]files.FileInfo(nil), s.outgoing...)
	}
	s.mu.Unlock()

	s.view.SetPeers(len(s.ctrl.Peers()))
	s.view.Println("%s %s joined", ui.IconPeer, ui.BoldStyle.Render(s.name(p.ID)))
	s.sendNext(p.ID)
}

func (s *roomSession) onPeerLeft(peerID, reason string) {
	name := s.name(peerID)
	s.mu.Lock()
	delete(s.queues, peerID)
	delete(s.inFlight, peerID)
	s.mu.Unlock()

	s.view.SetPeers(len(s.ctrl.Peers()))
	s.view.Println("%s %s left (%s)", ui.IconPeer, name, reason)
	s.checkDone()
}

func (s *roomSession) onUserInfo(peerID string, info value.Value) {
	if n := peerName(info); n != "" {
		s.mu.Lock()
		s.names[peerID] = n
		s.mu.Unlock()
	}
}

func (s *roomSession) onMessage(peerID string, msg value.Value, public bool) {
	scope := "(private)"
	if public {
		scope = ""
	}
	text, ok := msg.Str()
	if !ok {
		text = msg.String()
	}
	s.view.Println("%s %s %s %s", ui.IconMessage, ui.BoldStyle.Render(s.name(peerID)+":"), text, ui.MutedStyle.Render(scope))
}

// sendNext offers the head of peerID's queue. A channel that is not open
// yet is retried.
func (s *roomSession) sendNext(peerID string) {
	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return
	}
	if _, busy := s.inFlight[peerID]; busy {
		s.mu.Unlock()
		return
	}
	queue, ok := s.queues[peerID]
	if !ok || len(queue) == 0 {
		if ok {
			delete(s.queues, peerID)
			s.served++
		}
		s.mu.Unlock()
		s.checkDone()
		return
	}
	next := queue[0]
	s.inFlight[peerID] = next
	s.mu.Unlock()

	err := s.ctrl.SendFileTransferRequest(next.Path, s.asset, peerID)
	switch {
	case err == nil:
		s.mu.Lock()
		s.queues[peerID] = queue[1:]
		s.mu.Unlock()
		s.view.Println("%s offered %s to %s", ui.IconSend, next.Name, s.name(peerID))
	case errors.Is(err, filetransfer.ErrChannelNotOpen), errors.Is(err, filetransfer.ErrTransferActive):
		s.mu.Lock()
		delete(s.inFlight, peerID)
		s.mu.Unlock()
		s.log.Debug().Err(err).Str("peer", peerID).Str("file", next.Name).Msg("offer deferred")
		time.AfterFunc(retryInterval, func() { s.sendNext(peerID) })
	default:
		s.mu.Lock()
		delete(s.inFlight, peerID)
		delete(s.queues, peerID)
		s.mu.Unlock()
		if !errors.Is(err, room.ErrUnknownPeer) && !errors.Is(err, room.ErrNotConnected) {
			s.view.Println("%s %v", ui.IconError, err)
		}
	}
}

// finishSend clears the in-flight file for peerID when fileName is ours.
func (s *roomSession) finishSend(peerID, fileName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inFlight[peerID]
	if !ok || f.Name != fileName {
		return false
	}
	delete(s.inFlight, peerID)
	return true
}

func (s *roomSession) onRequest(peerID string, req filetransfer.Request) {
	offer := ui.Offer{Peer: peerID, PeerName: s.name(peerID), File: req.FileName, Size: int64(req.Size)}
	if s.autoAccept {
		s.answer(offer, true)
		return
	}
	s.view.Ask(offer)
}

// answer is called from the view when the user decides on an offer.
func (s *roomSession) answer(o ui.Offer, accept bool) {
	if err := s.ctrl.AcceptFileTransfer(accept, o.File, o.Peer); err != nil {
		s.view.Println("%s %s: %v", ui.IconError, o.File, err)
		return
	}
	if accept {
		s.view.Progress.Track(o.Peer, s.name(o.Peer), o.File, ui.DirectionReceive, o.Size)
	} else {
		s.view.Println("%s declined %s from %s", ui.IconReceive, o.File, s.name(o.Peer))
	}
}

func (s *roomSession) onPermission(peerID, fileName string, accepted bool) {
	if !accepted {
		s.view.Println("%s %s declined %s", ui.IconSend, s.name(peerID), fileName)
		if s.finishSend(peerID, fileName) {
			s.sendNext(peerID)
		}
		return
	}
	s.mu.Lock()
	f := s.inFlight[peerID]
	s.mu.Unlock()
	s.view.Progress.Track(peerID, s.name(peerID), fileName, ui.DirectionSend, f.Size)
}

func (s *roomSession) onDropped(peerID, fileName, reason string, explicit bool) {
	s.view.Withdraw(peerID, fileName)
	s.view.Progress.Finish(peerID, fileName, reason)
	if explicit {
		s.view.Println("%s %s: %s by %s", ui.IconWarning, fileName, reason, s.name(peerID))
	} else {
		s.view.Println("%s %s: %s", ui.IconWarning, fileName, reason)
	}
	if s.finishSend(peerID, fileName) {
		s.sendNext(peerID)
	}
}

func (s *roomSession) onCompleted(peerID, fileName string, role filetransfer.Role, path string) {
	s.view.Progress.Finish(peerID, fileName, ui.StatusCompleted)
	if role == filetransfer.RoleReceiver {
		s.view.Println("%s saved %s", ui.IconSuccess, path)
		s.checkDone()
		return
	}
	s.view.Println("%s sent %s to %s", ui.IconSuccess, fileName, s.name(peerID))
	if s.finishSend(peerID, fileName) {
		s.sendNext(peerID)
	}
}

// checkDone leaves the room once every peer has been served, when asked to.
func (s *roomSession) checkDone() {
	if !s.exitWhenDone {
		return
	}
	s.mu.Lock()
	finished := s.served > 0 && len(s.queues) == 0 && len(s.inFlight) == 0
	s.mu.Unlock()
	if finished && s.view.Progress.Active() == 0 {
		s.leave()
	}
}

// leave starts an orderly exit. It is safe to call more than once.
func (s *roomSession) leave() {
	s.mu.Lock()
	if s.leaving {
		s.mu.Unlock()
		return
	}
	s.leaving = true
	s.mu.Unlock()

	peers := s.ctrl.Peers()
	s.mu.Lock()
	s.lastPeers = peers
	s.mu.Unlock()

	s.view.SetLeaving()
	s.ctrl.Leave(nil)
}

func (s *roomSession) disconnectReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// peerRows renders the members seen when leaving.
func (s *roomSession) peerRows() []ui.PeerRow {
	s.mu.Lock()
	peers := s.lastPeers
	s.mu.Unlock()

	rows := make([]ui.PeerRow, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, ui.PeerRow{
			ID:         p.ID,
			Name:       s.name(p.ID),
			HasAudio:   p.Media.HasAudio,
			AudioMuted: p.Media.AudioMuted,
			HasVideo:   p.Media.HasVideo,
			VideoMuted: p.Media.VideoMuted,
			JoinedAt:   p.JoinedAt,
		})
	}
	return rows
}
