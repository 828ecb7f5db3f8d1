package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/observer"
	"github.com/BioHazard786/roomlink/internal/relay"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/rtc/rtctest"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/signaling/signalingtest"
	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/rs/zerolog"
)

const waitTimeout = 5 * time.Second

type event struct {
	kind     string
	peer     string
	text     string
	flag     bool
	value    value.Value
	data     []byte
	fraction float64
	role     filetransfer.Role
	req      filetransfer.Request
	res      JoinResult
	size     Resolution
}

// recorder implements every handler and keeps the events in delivery
// order.
type recorder struct {
	mu      sync.Mutex
	events  []event
	used    []bool
	changed chan struct{}
	handles []*observer.Handle
}

func newRecorder(c *Controller) *recorder {
	r := &recorder{changed: make(chan struct{})}
	r.handles = append(r.handles,
		c.SetLifecycleHandler(r),
		c.SetPeerHandler(r),
		c.SetMediaHandler(r),
		c.SetMessageHandler(r),
		c.SetTransferHandler(r),
		c.SetStatsHandler(r),
	)
	return r
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	r.used = append(r.used, false)
	close(r.changed)
	r.changed = make(chan struct{})
}

// wait returns the first unconsumed event of kind that satisfies match.
func (r *recorder) wait(t *testing.T, kind string, match func(event) bool) event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		r.mu.Lock()
		for i, e := range r.events {
			if !r.used[i] && e.kind == kind && (match == nil || match(e)) {
				r.used[i] = true
				r.mu.Unlock()
				return e
			}
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func (r *recorder) waitPeer(t *testing.T, kind, peerID string) event {
	t.Helper()
	return r.wait(t, kind, func(e event) bool { return e.peer == peerID })
}

func (r *recorder) all(kind string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) OnConnected(res JoinResult) { r.add(event{kind: "connected", res: res}) }
func (r *recorder) OnDisconnected(reason string) {
	r.add(event{kind: "disconnected", text: reason})
}
func (r *recorder) OnWarning(msg string) { r.add(event{kind: "warning", text: msg}) }
func (r *recorder) OnLockChanged(locked bool, peerID string) {
	r.add(event{kind: "lock", flag: locked, peer: peerID})
}
func (r *recorder) OnRecordingChanged(active bool) { r.add(event{kind: "recording", flag: active}) }

func (r *recorder) OnPeerJoined(p Peer) {
	r.add(event{kind: "joined", peer: p.ID, value: p.UserInfo})
}
func (r *recorder) OnPeerLeft(peerID, reason string) {
	r.add(event{kind: "left", peer: peerID, text: reason})
}
func (r *recorder) OnUserInfo(peerID string, info value.Value) {
	r.add(event{kind: "userinfo", peer: peerID, value: info})
}

func (r *recorder) OnAudioToggled(peerID string, muted bool) {
	r.add(event{kind: "audio", peer: peerID, flag: muted})
}
func (r *recorder) OnVideoToggled(peerID string, muted bool) {
	r.add(event{kind: "video", peer: peerID, flag: muted})
}
func (r *recorder) OnVideoSizeChanged(peerID string, res Resolution) {
	r.add(event{kind: "size", peer: peerID, size: res})
}

func (r *recorder) OnCustomMessage(peerID string, msg value.Value, public bool) {
	r.add(event{kind: "custom", peer: peerID, value: msg, flag: public})
}
func (r *recorder) OnDCMessage(peerID string, msg value.Value, public bool) {
	r.add(event{kind: "dc", peer: peerID, value: msg, flag: public})
}
func (r *recorder) OnBinaryData(peerID string, data []byte) {
	r.add(event{kind: "binary", peer: peerID, data: data})
}

func (r *recorder) OnTransferRequest(peerID string, req filetransfer.Request) {
	r.add(event{kind: "request", peer: peerID, text: req.FileName, req: req})
}
func (r *recorder) OnTransferPermission(peerID, fileName string, accepted bool) {
	r.add(event{kind: "permission", peer: peerID, text: fileName, flag: accepted})
}
func (r *recorder) OnTransferProgress(peerID, fileName string, role filetransfer.Role, fraction float64) {
	r.add(event{kind: "progress", peer: peerID, text: fileName, role: role, fraction: fraction})
}
func (r *recorder) OnTransferDropped(peerID, fileName, reason string, explicit bool) {
	r.add(event{kind: "dropped", peer: peerID, text: fileName, flag: explicit, value: value.String(reason)})
}
func (r *recorder) OnTransferCompleted(peerID, fileName string, role filetransfer.Role, path string) {
	r.add(event{kind: "completed", peer: peerID, text: path, role: role})
}

func (r *recorder) OnStats(peerID string, s rtc.Stats) { r.add(event{kind: "stats", peer: peerID}) }
func (r *recorder) OnResolutionChanged(res Resolution) {
	r.add(event{kind: "resolution", size: res})
}

// testRoom is a relay hub and a transport network shared by the peers of
// one test.
type testRoom struct {
	t   *testing.T
	hub *relay.Hub
	net *rtctest.Network
}

func newTestRoom(t *testing.T) *testRoom {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := relay.NewHub(config.Server{MaxRoomPeers: 32}, zerolog.Nop())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return &testRoom{t: t, hub: hub, net: rtctest.NewNetwork()}
}

type testPeer struct {
	*Controller
	rec     *recorder
	factory *rtctest.Factory
}

func (tr *testRoom) newPeer(mutate func(*config.Session)) *testPeer {
	t := tr.t
	t.Helper()

	cfg := &config.Config{ServerURL: "ws://relay.test/ws", Session: config.DefaultSession()}
	cfg.Session.DownloadDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg.Session)
	}

	factory := tr.net.Factory()
	dial := func(ctx context.Context, serverURL string) (signaling.Link, error) {
		local, remote := signalingtest.Pipe()
		tr.hub.Attach(remote)
		return local, nil
	}
	c := New(cfg, factory, WithDialer(dial))
	p := &testPeer{Controller: c, rec: newRecorder(c), factory: factory}

	t.Cleanup(func() {
		if p.State() == StateConnected {
			done := make(chan struct{})
			p.Leave(func() { close(done) })
			select {
			case <-done:
			case <-time.After(waitTimeout):
				t.Errorf("leave did not complete")
			}
		}
		p.Close()
	})
	return p
}

func (tr *testRoom) join(p *testPeer, name string) JoinResult {
	t := tr.t
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	res, err := p.Join(ctx, credentials.SharedSecret{Room: "test-room"}, value.String(name))
	if err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
	if !res.OK {
		t.Fatalf("Join(%s) denied: %s", name, res.Reason)
	}
	return res
}

// waitActive polls until p's session with peerID is active.
func waitActive(t *testing.T, p *testPeer, peerID string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		st, err := p.SessionState(peerID)
		if err == nil && st == SessionActive {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s -> %s not active: %v %v", p.SelfID(), peerID, st, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// pair joins two peers and waits until their transports are up.
func (tr *testRoom) pair() (*testPeer, *testPeer) {
	t := tr.t
	t.Helper()
	a, b := tr.newPeer(nil), tr.newPeer(nil)
	tr.join(a, "alice")
	tr.join(b, "bob")
	a.rec.waitPeer(t, "joined", b.SelfID())
	b.rec.waitPeer(t, "joined", a.SelfID())
	waitActive(t, a, b.SelfID())
	waitActive(t, b, a.SelfID())
	return a, b
}
