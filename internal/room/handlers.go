package room

import (
	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/value"
)

// JoinResult reports the outcome of Join. Reason is empty on success.
type JoinResult struct {
	OK     bool
	Reason string
	RoomID string
	SelfID string
}

// Resolution is a video size.
type Resolution struct {
	Width     int
	Height    int
	FrameRate float64
}

// LifecycleHandler observes the room connection itself.
type LifecycleHandler interface {
	OnConnected(res JoinResult)
	OnDisconnected(reason string)
	OnWarning(msg string)
	OnLockChanged(locked bool, peerID string)
	OnRecordingChanged(active bool)
}

// PeerHandler observes room membership.
type PeerHandler interface {
	OnPeerJoined(p Peer)
	OnPeerLeft(peerID, reason string)
	OnUserInfo(peerID string, info value.Value)
}

// MediaHandler observes remote media state.
type MediaHandler interface {
	OnAudioToggled(peerID string, muted bool)
	OnVideoToggled(peerID string, muted bool)
	OnVideoSizeChanged(peerID string, r Resolution)
}

// MessageHandler observes application messages.
type MessageHandler interface {
	OnCustomMessage(peerID string, msg value.Value, public bool)
	OnDCMessage(peerID string, msg value.Value, public bool)
	OnBinaryData(peerID string, data []byte)
}

// TransferHandler observes file transfers.
type TransferHandler interface {
	OnTransferRequest(peerID string, req filetransfer.Request)
	OnTransferPermission(peerID, fileName string, accepted bool)
	OnTransferProgress(peerID, fileName string, role filetransfer.Role, fraction float64)
	OnTransferDropped(peerID, fileName, reason string, explicit bool)
	OnTransferCompleted(peerID, fileName string, role filetransfer.Role, path string)
}

// StatsHandler observes transport statistics.
type StatsHandler interface {
	OnStats(peerID string, s rtc.Stats)
	OnResolutionChanged(r Resolution)
}

// LifecycleFuncs adapts functions to LifecycleHandler. Nil fields are skipped.
type LifecycleFuncs struct {
	Connected        func(JoinResult)
	Disconnected     func(reason string)
	Warning          func(msg string)
	LockChanged      func(locked bool, peerID string)
	RecordingChanged func(active bool)
}

func (f LifecycleFuncs) OnConnected(res JoinResult) {
	if f.Connected != nil {
		f.Connected(res)
	}
}

func (f LifecycleFuncs) OnDisconnected(reason string) {
	if f.Disconnected != nil {
		f.Disconnected(reason)
	}
}

func (f LifecycleFuncs) OnWarning(msg string) {
	if f.Warning != nil {
		f.Warning(msg)
	}
}

func (f LifecycleFuncs) OnLockChanged(locked bool, peerID string) {
	if f.LockChanged != nil {
		f.LockChanged(locked, peerID)
	}
}

func (f LifecycleFuncs) OnRecordingChanged(active bool) {
	if f.RecordingChanged != nil {
		f.RecordingChanged(active)
	}
}

// PeerFuncs adapts functions to PeerHandler.
type PeerFuncs struct {
	Joined   func(Peer)
	Left     func(peerID, reason string)
	UserInfo func(peerID string, info value.Value)
}

func (f PeerFuncs) OnPeerJoined(p Peer) {
	if f.Joined != nil {
		f.Joined(p)
	}
}

func (f PeerFuncs) OnPeerLeft(peerID, reason string) {
	if f.Left != nil {
		f.Left(peerID, reason)
	}
}

func (f PeerFuncs) OnUserInfo(peerID string, info value.Value) {
	if f.UserInfo != nil {
		f.UserInfo(peerID, info)
	}
}

// MediaFuncs adapts functions to MediaHandler.
type MediaFuncs struct {
	AudioToggled     func(peerID string, muted bool)
	VideoToggled     func(peerID string, muted bool)
	VideoSizeChanged func(peerID string, r Resolution)
}

func (f MediaFuncs) OnAudioToggled(peerID string, muted bool) {
	if f.AudioToggled != nil {
		f.AudioToggled(peerID, muted)
	}
}

func (f MediaFuncs) OnVideoToggled(peerID string, muted bool) {
	if f.VideoToggled != nil {
		f.VideoToggled(peerID, muted)
	}
}

func (f MediaFuncs) OnVideoSizeChanged(peerID string, r Resolution) {
	if f.VideoSizeChanged != nil {
		f.VideoSizeChanged(peerID, r)
	}
}

// MessageFuncs adapts functions to MessageHandler.
type MessageFuncs struct {
	Custom func(peerID string, msg value.Value, public bool)
	DC     func(peerID string, msg value.Value, public bool)
	Binary func(peerID string, data []byte)
}

func (f MessageFuncs) OnCustomMessage(peerID string, msg value.Value, public bool) {
	if f.Custom != nil {
		f.Custom(peerID, msg, public)
	}
}

func (f MessageFuncs) OnDCMessage(peerID string, msg value.Value, public bool) {
	if f.DC != nil {
		f.DC(peerID, msg, public)
	}
}

func (f MessageFuncs) OnBinaryData(peerID string, data []byte) {
	if f.Binary != nil {
		f.Binary(peerID, data)
	}
}

// TransferFuncs adapts functions to TransferHandler.
type TransferFuncs struct {
	Request    func(peerID string, req filetransfer.Request)
	Permission func(peerID, fileName string, accepted bool)
	Progress   func(peerID, fileName string, role filetransfer.Role, fraction float64)
	Dropped    func(peerID, fileName, reason string, explicit bool)
	Completed  func(peerID, fileName string, role filetransfer.Role, path string)
}

func (f TransferFuncs) OnTransferRequest(peerID string, req filetransfer.Request) {
	if f.Request != nil {
		f.Request(peerID, req)
	}
}

func (f TransferFuncs) OnTransferPermission(peerID, fileName string, accepted bool) {
	if f.Permission != nil {
		f.Permission(peerID, fileName, accepted)
	}
}

func (f TransferFuncs) OnTransferProgress(peerID, fileName string, role filetransfer.Role, fraction float64) {
	if f.Progress != nil {
		f.Progress(peerID, fileName, role, fraction)
	}
}

func (f TransferFuncs) OnTransferDropped(peerID, fileName, reason string, explicit bool) {
	if f.Dropped != nil {
		f.Dropped(peerID, fileName, reason, explicit)
	}
}

func (f TransferFuncs) OnTransferCompleted(peerID, fileName string, role filetransfer.Role, path string) {
	if f.Completed != nil {
		f.Completed(peerID, fileName, role, path)
	}
}

// StatsFuncs adapts functions to StatsHandler.
type StatsFuncs struct {
	Stats             func(peerID string, s rtc.Stats)
	ResolutionChanged func(r Resolution)
}

func (f StatsFuncs) OnStats(peerID string, s rtc.Stats) {
	if f.Stats != nil {
		f.Stats(peerID, s)
	}
}

func (f StatsFuncs) OnResolutionChanged(r Resolution) {
	if f.ResolutionChanged != nil {
		f.ResolutionChanged(r)
	}
}
