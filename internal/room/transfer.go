package room

import (
	"fmt"

	"github.com/BioHazard786/roomlink/internal/filetransfer"
)

// SendFileTransferRequest offers the file at path to peerID. It fails with
// filetransfer.ErrTransferActive while a transfer with that peer is
// running.
func (c *Controller) SendFileTransferRequest(path string, asset filetransfer.AssetType, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("file transfer request: %w", ErrUnknownPeer)
	}
	engine, err := c.transferEngine(peerID)
	if err != nil {
		return err
	}
	return engine.SendRequest(path, asset, peerID)
}

// BroadcastFileTransferRequest offers the file to every peer that is not
// busy and returns those peers. When every peer is busy nothing is sent.
func (c *Controller) BroadcastFileTransferRequest(path string, asset filetransfer.AssetType) ([]string, error) {
	engine, err := c.transferEngine("")
	if err != nil {
		return nil, err
	}
	return engine.Broadcast(path, asset)
}

// AcceptFileTransfer answers a request from peerID.
func (c *Controller) AcceptFileTransfer(accept bool, fileName, peerID string) error {
	engine, err := c.transferEngine(peerID)
	if err != nil {
		return err
	}
	return engine.Accept(accept, fileName, peerID)
}

// CancelFileTransfer ends the transfer of fileName with peerID. Both ends
// observe a drop.
func (c *Controller) CancelFileTransfer(fileName, peerID string) error {
	engine, err := c.transferEngine(peerID)
	if err != nil {
		return err
	}
	return engine.Cancel(fileName, peerID)
}

// Transfers returns the transfers in progress.
func (c *Controller) Transfers() []filetransfer.Info {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Active()
}

// transferEngine returns the engine for calls made without the lock; the
// engine resolves channels through the controller.
func (c *Controller) transferEngine(peerID string) (*filetransfer.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkPeerLocked(peerID); err != nil {
		return nil, err
	}
	if !c.session.FileTransfer {
		return nil, fmt.Errorf("file transfer disabled: %w", ErrInvalidState)
	}
	return c.engine, nil
}

// transferChannels exposes active sessions to the engine.
type transferChannels struct{ c *Controller }

func (t transferChannels) Channel(peerID string) (filetransfer.Channel, bool) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	s, ok := t.c.sessions[peerID]
	if !ok || s.conn == nil || s.state != SessionActive {
		return nil, false
	}
	return s.conn, true
}

func (t transferChannels) OpenPeers() []string {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	var ids []string
	for _, id := range t.c.activePeersLocked() {
		if t.c.sessions[id].conn.IsOpen() {
			ids = append(ids, id)
		}
	}
	return ids
}

// transferEvents forwards engine events to the transfer handler.
type transferEvents struct{ c *Controller }

func (t transferEvents) TransferRequested(peerID string, req filetransfer.Request) {
	t.c.emitTransfer(func(h TransferHandler) { h.OnTransferRequest(peerID, req) })
}

func (t transferEvents) TransferPermission(peerID, fileName string, accepted bool) {
	t.c.emitTransfer(func(h TransferHandler) { h.OnTransferPermission(peerID, fileName, accepted) })
}

func (t transferEvents) TransferProgress(peerID, fileName string, role filetransfer.Role, fraction float64) {
	t.c.emitTransfer(func(h TransferHandler) { h.OnTransferProgress(peerID, fileName, role, fraction) })
}

func (t transferEvents) TransferDropped(peerID, fileName, reason string, explicit bool) {
	t.c.emitTransfer(func(h TransferHandler) { h.OnTransferDropped(peerID, fileName, reason, explicit) })
}

func (t transferEvents) TransferCompleted(peerID, fileName string, role filetransfer.Role, path string) {
	t.c.emitTransfer(func(h TransferHandler) { h.OnTransferCompleted(peerID, fileName, role, path) })
}
