package filetransfer

import (
	"bytes"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/roomlink/internal/protocol"
	"github.com/rs/zerolog"
)

type event struct {
	kind     string
	peer     string
	file     string
	role     Role
	fraction float64
	reason   string
	explicit bool
	accepted bool
	path     string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(ev event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) TransferRequested(peerID string, req Request) {
	r.add(event{kind: "request", peer: peerID, file: req.FileName})
}

func (r *recorder) TransferPermission(peerID, fileName string, accepted bool) {
	r.add(event{kind: "permission", peer: peerID, file: fileName, accepted: accepted})
}

func (r *recorder) TransferProgress(peerID, fileName string, role Role, fraction float64) {
	r.add(event{kind: "progress", peer: peerID, file: fileName, role: role, fraction: fraction})
}

func (r *recorder) TransferDropped(peerID, fileName, reason string, explicit bool) {
	r.add(event{kind: "drop", peer: peerID, file: fileName, reason: reason, explicit: explicit})
}

func (r *recorder) TransferCompleted(peerID, fileName string, role Role, path string) {
	r.add(event{kind: "complete", peer: peerID, file: fileName, role: role, path: path})
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) find(kind string) (event, bool) {
	for _, ev := range r.snapshot() {
		if ev.kind == kind {
			return ev, true
		}
	}
	return event{}, false
}

func (r *recorder) waitFor(t *testing.T, kind string) event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := r.find(kind); ok {
			return ev
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q event; got %+v", kind, r.snapshot())
	return event{}
}

// fakeChannel delivers frames in order to the remote engine on its own
// goroutine.
type fakeChannel struct {
	from   string
	to     *node
	open   atomic.Bool
	frames chan []byte
	done   chan struct{}

	// gate is held by a test to stall delivery.
	gate sync.Mutex
}

func (c *fakeChannel) run() {
	for {
		select {
		case data := <-c.frames:
			msg, err := protocol.Parse(data)
			if err != nil {
				continue
			}
			c.gate.Lock()
			c.to.engine.HandleFrame(c.from, msg)
			c.gate.Unlock()
		case <-c.done:
			return
		}
	}
}

func (c *fakeChannel) Send(data []byte) error {
	if !c.open.Load() {
		return ErrChannelNotOpen
	}
	select {
	case c.frames <- append([]byte(nil), data...):
	case <-c.done:
	}
	return nil
}

func (c *fakeChannel) IsOpen() bool                       { return c.open.Load() }
func (c *fakeChannel) BufferedAmount() uint64             { return 0 }
func (c *fakeChannel) OnBufferedAmountLow(uint64, func()) {}

type node struct {
	id     string
	engine *Engine
	rec    *recorder
	out    map[string]*fakeChannel
	dir    string
}

func (n *node) Channel(peerID string) (Channel, bool) {
	c, ok := n.out[peerID]
	return c, ok
}

func (n *node) OpenPeers() []string {
	var ids []string
	for id, c := range n.out {
		if c.IsOpen() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// newMesh connects every pair of ids with open channels.
func newMesh(t *testing.T, timeout time.Duration, ids ...string) map[string]*node {
	t.Helper()
	nodes := make(map[string]*node, len(ids))
	for _, id := range ids {
		n := &node{id: id, rec: &recorder{}, out: make(map[string]*fakeChannel), dir: t.TempDir()}
		n.engine = New(n, n.rec, Options{OutputDir: n.dir, Timeout: timeout, Logger: zerolog.Nop()})
		nodes[id] = n
	}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			c := &fakeChannel{from: a, to: nodes[b], frames: make(chan []byte, 1024), done: make(chan struct{})}
			c.open.Store(true)
			nodes[a].out[b] = c
			go c.run()
		}
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.engine.Close()
		}
		for _, n := range nodes {
			for _, c := range n.out {
				close(c.done)
			}
		}
	})
	return nodes
}

func writeFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

func checkProgress(t *testing.T, events []event) {
	t.Helper()
	last := 0.0
	var seen, terminal bool
	for _, ev := range events {
		switch ev.kind {
		case "progress":
			if terminal {
				t.Errorf("progress %v after terminal event", ev.fraction)
			}
			if ev.fraction < last || ev.fraction > 1 {
				t.Errorf("progress went from %v to %v", last, ev.fraction)
			}
			last = ev.fraction
			seen = true
		case "complete":
			if last != 1 {
				t.Errorf("completed with last progress %v, want 1", last)
			}
			terminal = true
		case "drop":
			terminal = true
		}
	}
	if !seen {
		t.Errorf("no progress events")
	}
}

func TestTransferCompletes(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	a, b := nodes["a"], nodes["b"]
	path, data := writeFile(t, 3*maxChunkSize+123)

	if err := a.engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	req := b.rec.waitFor(t, "request")
	if req.peer != "a" || req.file != "payload.bin" {
		t.Fatalf("request = %+v", req)
	}
	if err := b.engine.Accept(true, "payload.bin", "a"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	recv := b.rec.waitFor(t, "complete")
	sent := a.rec.waitFor(t, "complete")
	if sent.role != RoleSender || recv.role != RoleReceiver {
		t.Errorf("roles = %v / %v", sent.role, recv.role)
	}

	got, err := os.ReadFile(recv.path)
	if err != nil {
		t.Fatalf("read received file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("received %d bytes, want %d identical bytes", len(got), len(data))
	}
	if filepath.Dir(recv.path) != b.dir {
		t.Errorf("saved to %s, want dir %s", recv.path, b.dir)
	}

	checkProgress(t, a.rec.snapshot())
	checkProgress(t, b.rec.snapshot())
	if a.engine.Busy("b") || b.engine.Busy("a") {
		t.Errorf("session survived completion")
	}
}

func TestEmptyFileCompletes(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	path, _ := writeFile(t, 0)

	if err := nodes["a"].engine.SendRequest(path, AssetPhoto, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	nodes["b"].rec.waitFor(t, "request")
	if err := nodes["b"].engine.Accept(true, "payload.bin", "a"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	nodes["a"].rec.waitFor(t, "complete")
	recv := nodes["b"].rec.waitFor(t, "complete")
	if info, err := os.Stat(recv.path); err != nil || info.Size() != 0 {
		t.Errorf("received file: %v, %v", info, err)
	}
	checkProgress(t, nodes["a"].rec.snapshot())
}

func TestSecondRequestToBusyPeerErrors(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	a, b := nodes["a"], nodes["b"]
	path, _ := writeFile(t, 1024)

	if err := a.engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	err := a.engine.SendRequest(path, AssetFile, "b")
	if !errors.Is(err, ErrTransferActive) {
		t.Fatalf("second request: got %v, want ErrTransferActive", err)
	}
	var terr *TransferError
	if !errors.As(err, &terr) || terr.Op != "request" {
		t.Errorf("error %v is not a request TransferError", err)
	}

	b.rec.waitFor(t, "request")
	if err := b.engine.Accept(false, "payload.bin", "a"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	perm := a.rec.waitFor(t, "permission")
	if perm.accepted {
		t.Fatalf("permission = accepted, want rejected")
	}
	if a.engine.Busy("b") {
		t.Fatalf("rejected session still active")
	}

	if err := a.engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Errorf("request after rejection: %v", err)
	}
}

func TestCancelEndsBothSides(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	a, b := nodes["a"], nodes["b"]
	path, _ := writeFile(t, 1024)

	if err := a.engine.SendRequest(path, AssetMusic, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	b.rec.waitFor(t, "request")

	if err := a.engine.Cancel("payload.bin", "b"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	local := a.rec.waitFor(t, "drop")
	remote := b.rec.waitFor(t, "drop")
	if !local.explicit || !remote.explicit {
		t.Errorf("cancel drops should be explicit: %+v / %+v", local, remote)
	}
	if remote.reason != ReasonCancelled {
		t.Errorf("remote reason = %q", remote.reason)
	}
	if a.engine.Busy("b") || b.engine.Busy("a") {
		t.Errorf("session survived cancel")
	}

	if err := a.engine.Cancel("payload.bin", "b"); !errors.Is(err, ErrNoTransfer) {
		t.Errorf("second cancel: got %v, want ErrNoTransfer", err)
	}
	if err := b.engine.Accept(true, "payload.bin", "a"); !errors.Is(err, ErrNoTransfer) {
		t.Errorf("accept after cancel: got %v, want ErrNoTransfer", err)
	}
}

func TestTimeoutDropsBothEnds(t *testing.T) {
	nodes := newMesh(t, 100*time.Millisecond, "a", "b")
	path, _ := writeFile(t, 1024)

	if err := nodes["a"].engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		ev := nodes[id].rec.waitFor(t, "drop")
		if ev.reason != ReasonTimeout || ev.explicit {
			t.Errorf("%s drop = %+v, want non-explicit timeout", id, ev)
		}
	}
	if nodes["a"].engine.Busy("b") || nodes["b"].engine.Busy("a") {
		t.Errorf("session survived timeout")
	}
}

func TestBroadcastTargetsFreePeers(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b", "c")
	a := nodes["a"]
	path, _ := writeFile(t, 1024)

	if err := a.engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	sent, err := a.engine.Broadcast(path, AssetFile)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(sent) != 1 || sent[0] != "c" {
		t.Fatalf("broadcast reached %v, want [c]", sent)
	}

	sent, err = a.engine.Broadcast(path, AssetFile)
	if err != nil || len(sent) != 0 {
		t.Errorf("broadcast with every peer busy = %v, %v; want no-op", sent, err)
	}
}

func TestCrossingRequestsAreRefused(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	a, b := nodes["a"], nodes["b"]
	pathA, _ := writeFile(t, 1024)
	pathB := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(pathB, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	// both requests leave before either arrives
	a.out["b"].gate.Lock()
	b.out["a"].gate.Lock()
	errA := a.engine.SendRequest(pathA, AssetFile, "b")
	errB := b.engine.SendRequest(pathB, AssetFile, "a")
	a.out["b"].gate.Unlock()
	b.out["a"].gate.Unlock()
	if errA != nil || errB != nil {
		t.Fatalf("requests: a->b %v, b->a %v", errA, errB)
	}

	want := map[string]string{"a": "payload.bin", "b": "notes.txt"}
	for id, file := range want {
		ev := nodes[id].rec.waitFor(t, "drop")
		if ev.reason != ReasonBusy || ev.explicit || ev.file != file {
			t.Errorf("%s drop = %+v, want non-explicit busy for %s", id, ev, file)
		}
		if ev, ok := nodes[id].rec.find("request"); ok {
			t.Errorf("%s surfaced the crossing request: %+v", id, ev)
		}
	}
	if a.engine.Busy("b") || b.engine.Busy("a") {
		t.Fatalf("session survived the refusal")
	}

	if err := a.engine.SendRequest(pathA, AssetFile, "b"); err != nil {
		t.Fatalf("request after refusal: %v", err)
	}
	if ev := b.rec.waitFor(t, "request"); ev.file != "payload.bin" {
		t.Errorf("b request = %+v", ev)
	}
}

func TestCloseCancelsTransfers(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	path, _ := writeFile(t, 1024)

	if err := nodes["a"].engine.SendRequest(path, AssetFile, "b"); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	nodes["b"].rec.waitFor(t, "request")

	nodes["a"].engine.Close()
	local, _ := nodes["a"].rec.find("drop")
	if local.reason != ReasonDisconnected || !local.explicit {
		t.Errorf("local drop = %+v", local)
	}
	if len(nodes["a"].engine.Active()) != 0 {
		t.Errorf("sessions survived Close")
	}
	remote := nodes["b"].rec.waitFor(t, "drop")
	if !remote.explicit {
		t.Errorf("remote drop = %+v", remote)
	}

	if err := nodes["a"].engine.SendRequest(path, AssetFile, "b"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("request after Close: got %v, want ErrEngineClosed", err)
	}
}

func TestRequestRejectsClosedChannel(t *testing.T) {
	nodes := newMesh(t, 5*time.Second, "a", "b")
	nodes["a"].out["b"].open.Store(false)
	path, _ := writeFile(t, 10)

	err := nodes["a"].engine.SendRequest(path, AssetFile, "b")
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("got %v, want ErrChannelNotOpen", err)
	}
	if err := nodes["a"].engine.SendRequest(filepath.Join(t.TempDir(), "nope"), AssetFile, "b"); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("missing file: got %v, want ErrInvalidFile", err)
	}
}

func TestValidName(t *testing.T) {
	tests := map[string]bool{
		"photo.jpg":    true,
		"":             false,
		"..":           false,
		"../evil":      false,
		"dir/file":     false,
		"a (1).tar.gz": true,
	}
	for name, want := range tests {
		if got := validName(name); got != want {
			t.Errorf("validName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestChunkSizerStaysInBounds(t *testing.T) {
	c := newChunkSizer()
	for range 100 {
		c.record(maxChunkSize)
	}
	if s := c.size(); s < minChunkSize || s > maxChunkSize {
		t.Errorf("size %d outside [%d, %d]", s, minChunkSize, maxChunkSize)
	}
}
