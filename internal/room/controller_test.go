package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/relay"
	"github.com/BioHazard786/roomlink/internal/rtc/rtctest"
	"github.com/BioHazard786/roomlink/internal/signaling"
	"github.com/BioHazard786/roomlink/internal/signaling/mocks"
	"github.com/BioHazard786/roomlink/internal/signaling/signalingtest"
	"github.com/BioHazard786/roomlink/internal/value"
	"go.uber.org/mock/gomock"
)

func TestJoinAndPeerEvents(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	if got := a.Peers(); len(got) != 1 || got[0].ID != b.SelfID() {
		t.Fatalf("a.Peers() = %+v", got)
	}
	info, err := a.UserInfo(b.SelfID())
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := info.Str(); s != "bob" {
		t.Errorf("user info = %v, want bob", info)
	}
	if a.RoomID() != "test-room" || b.RoomID() != "test-room" {
		t.Errorf("room ids = %q %q", a.RoomID(), b.RoomID())
	}
}

func TestJoinWhileConnectedIsDenied(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)
	tr.join(a, "alice")

	res, err := a.Join(context.Background(), credentials.SharedSecret{Room: "test-room"}, value.Value{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != ReasonAlreadyConnected {
		t.Fatalf("second join = %+v", res)
	}
	if a.State() != StateConnected {
		t.Errorf("state = %v, want connected", a.State())
	}
}

func TestLockDeniesNewJoins(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()
	c := tr.newPeer(nil)

	if err := a.Lock(); err != nil {
		t.Fatal(err)
	}
	if !a.IsLocked() {
		t.Error("a does not see the room locked")
	}
	b.rec.wait(t, "lock", func(e event) bool { return e.flag && e.peer == a.SelfID() })

	res, err := c.Join(context.Background(), credentials.SharedSecret{Room: "test-room"}, value.Value{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != relay.DenyLocked {
		t.Fatalf("join into locked room = %+v", res)
	}
	if c.State() != StateIdle {
		t.Errorf("state after denial = %v", c.State())
	}
	if e := c.rec.wait(t, "connected", nil); e.res.Reason != relay.DenyLocked {
		t.Errorf("OnConnected reason = %q", e.res.Reason)
	}

	// existing peers stay
	if len(a.Peers()) != 1 {
		t.Errorf("lock evicted peers: %+v", a.Peers())
	}

	if err := a.Unlock(); err != nil {
		t.Fatal(err)
	}
	b.rec.wait(t, "lock", func(e event) bool { return !e.flag })
	tr.join(c, "carol")
}

func TestMaxPeerCount(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(func(s *config.Session) { s.MaxPeerCount = 1 })
	b, c := tr.newPeer(nil), tr.newPeer(nil)

	tr.join(a, "alice")
	tr.join(b, "bob")
	a.rec.waitPeer(t, "joined", b.SelfID())
	tr.join(c, "carol")

	a.rec.wait(t, "warning", nil)
	if got := a.Peers(); len(got) != 1 || got[0].ID != b.SelfID() {
		t.Fatalf("a.Peers() = %+v, want only bob", got)
	}
	if _, err := a.SessionState(c.SelfID()); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("session to waiting peer: %v", err)
	}

	// bob leaving frees the slot for carol
	bID := b.SelfID()
	done := make(chan struct{})
	b.Leave(func() { close(done) })
	<-done

	a.rec.waitPeer(t, "left", bID)
	a.rec.waitPeer(t, "joined", c.SelfID())
	if got := a.Peers(); len(got) != 1 || got[0].ID != c.SelfID() {
		t.Fatalf("a.Peers() = %+v, want only carol", got)
	}
	waitActive(t, a, c.SelfID())
	waitActive(t, c, a.SelfID())
}

func TestWaitingPeerOutlastsNegotiationTimeout(t *testing.T) {
	tr := newTestRoom(t)
	short := func(s *config.Session) { s.NegotiationTimeout = 200 * time.Millisecond }
	a := tr.newPeer(func(s *config.Session) {
		short(s)
		s.MaxPeerCount = 1
	})
	b, c := tr.newPeer(short), tr.newPeer(short)

	tr.join(a, "alice")
	tr.join(b, "bob")
	waitActive(t, a, b.SelfID())
	tr.join(c, "carol")
	a.rec.wait(t, "warning", nil)

	// carol is parked at alice for longer than a negotiation may take
	time.Sleep(600 * time.Millisecond)
	aID, bID := a.SelfID(), b.SelfID()
	if left := c.rec.all("left"); len(left) != 0 {
		t.Fatalf("carol saw peers leave while waiting: %+v", left)
	}
	if st, err := c.SessionState(aID); err != nil || st != SessionNew {
		t.Fatalf("carol's session to alice = %v, %v; want new", st, err)
	}

	done := make(chan struct{})
	b.Leave(func() { close(done) })
	<-done

	a.rec.waitPeer(t, "left", bID)
	a.rec.waitPeer(t, "joined", c.SelfID())
	waitActive(t, a, c.SelfID())
	waitActive(t, c, aID)
	for _, e := range c.rec.all("left") {
		if e.peer == aID {
			t.Errorf("carol saw alice leave: %q", e.text)
		}
	}
}

func TestNewcomerParksEarlierMember(t *testing.T) {
	tr := newTestRoom(t)
	short := func(s *config.Session) { s.NegotiationTimeout = 200 * time.Millisecond }
	a, b := tr.newPeer(short), tr.newPeer(short)
	c := tr.newPeer(func(s *config.Session) {
		short(s)
		s.MaxPeerCount = 1
	})

	tr.join(a, "alice")
	tr.join(b, "bob")
	waitActive(t, a, b.SelfID())
	tr.join(c, "carol")
	c.rec.wait(t, "warning", nil)

	aID, bID := a.SelfID(), b.SelfID()
	waitActive(t, c, aID)
	time.Sleep(600 * time.Millisecond)
	if left := b.rec.all("left"); len(left) != 0 {
		t.Fatalf("bob saw peers leave while waiting: %+v", left)
	}

	done := make(chan struct{})
	a.Leave(func() { close(done) })
	<-done

	c.rec.waitPeer(t, "left", aID)
	c.rec.waitPeer(t, "joined", bID)
	waitActive(t, c, bID)
	waitActive(t, b, c.SelfID())
}

func TestLeaveTwiceCompletesOnce(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	aID, bID := a.SelfID(), b.SelfID()
	calls := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Go(func() { a.Leave(func() { calls <- struct{}{} }) })
	}
	wg.Wait()

	select {
	case <-calls:
	case <-time.After(waitTimeout):
		t.Fatal("leave did not complete")
	}
	a.events.Flush()
	if n := len(calls); n != 0 {
		t.Fatalf("completion ran %d extra times", n)
	}

	if a.State() != StateIdle {
		t.Errorf("state = %v, want idle", a.State())
	}
	if len(a.Peers()) != 0 {
		t.Errorf("peers survive leave: %+v", a.Peers())
	}
	if _, err := a.SessionState(bID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SessionState after leave: %v", err)
	}
	a.rec.wait(t, "disconnected", nil)
	if _, ok := tr.net.Conn(aID, bID); ok {
		t.Error("transport to bob still open")
	}

	b.rec.wait(t, "left", func(e event) bool { return e.peer == aID && e.text == ReasonLeft })

	// idle leave is a no-op
	a.Leave(func() { t.Error("completion ran for idle leave") })
	a.events.Flush()
}

func TestOperationsRequireJoin(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)

	checks := []struct {
		name string
		err  error
	}{
		{"lock", a.Lock()},
		{"mute", a.MuteAudio(true)},
		{"custom", a.SendCustomMessage(value.String("hi"), "")},
		{"binary", a.SendBinaryData([]byte("hi"), "")},
		{"refresh", a.RefreshConnection("")},
		{"recording", a.StartRecording()},
	}
	for _, c := range checks {
		if !errors.Is(c.err, ErrNotConnected) {
			t.Errorf("%s before join: %v, want ErrNotConnected", c.name, c.err)
		}
	}
	if _, err := a.SendDCMessage(value.String("hi"), ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("dc message before join: %v", err)
	}
	if _, err := a.Stats(context.Background(), ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("stats before join: %v", err)
	}
}

func TestUnknownPeer(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)
	tr.join(a, "alice")

	if err := a.SendCustomMessage(value.String("hi"), "ghost"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("custom to unknown peer: %v", err)
	}
	if err := a.RefreshConnection("ghost"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("refresh unknown peer: %v", err)
	}
}

func TestPeerLeavesAndTransportFailure(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()
	c := tr.newPeer(nil)
	tr.join(c, "carol")
	waitActive(t, a, c.SelfID())

	tr.net.Fail(a.SelfID(), c.SelfID())
	e := a.rec.waitPeer(t, "left", c.SelfID())
	if e.text != reasonConnFailed {
		t.Errorf("left reason = %q, want %q", e.text, reasonConnFailed)
	}
	if got := a.Peers(); len(got) != 1 || got[0].ID != b.SelfID() {
		t.Errorf("a.Peers() = %+v", got)
	}
}

func TestNegotiationTimeout(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(func(s *config.Session) { s.NegotiationTimeout = 200 * time.Millisecond })
	b := tr.newPeer(nil)
	b.factory.Silent = true

	tr.join(a, "alice")
	tr.join(b, "bob")

	e := a.rec.waitPeer(t, "left", b.SelfID())
	if e.text != reasonNegotiationTimeout {
		t.Errorf("left reason = %q", e.text)
	}
	a.rec.wait(t, "warning", nil)
}

func TestPrepareFailure(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)
	a.factory.PrepareErr = errors.New("no camera")

	res, err := a.Join(context.Background(), credentials.SharedSecret{Room: "test-room"}, value.Value{})
	if err == nil || res.OK {
		t.Fatalf("join = %+v, %v; want failure", res, err)
	}
	if a.State() != StateIdle {
		t.Errorf("state = %v, want idle", a.State())
	}
}

func TestJoinDeniedByRelay(t *testing.T) {
	ctrl := gomock.NewController(t)
	link := mocks.NewMockLink(ctrl)
	in := make(chan *signaling.Message, 1)

	link.EXPECT().Send(gomock.Any()).DoAndReturn(func(msg *signaling.Message) error {
		if msg.Type != signaling.MessageTypeJoinRoom {
			t.Errorf("first message = %s, want join_room", msg.Type)
		}
		var p signaling.JoinPayload
		if err := msg.Decode(&p); err != nil {
			t.Error(err)
		}
		if p.Room != "vault" || p.Credential == "" || p.RoomSize != 4 {
			t.Errorf("join payload = %+v", p)
		}
		denied, _ := signaling.NewMessage(signaling.MessageTypeJoinDenied, signaling.DenialPayload{Reason: "room full"})
		in <- denied
		return nil
	})
	link.EXPECT().Incoming().Return((<-chan *signaling.Message)(in)).AnyTimes()
	link.EXPECT().Close().Return(nil)

	cfg := &config.Config{ServerURL: "ws://relay.test/ws", Session: config.DefaultSession()}
	factory := rtctest.NewNetwork().Factory()
	c := New(cfg, factory, WithDialer(func(context.Context, string) (signaling.Link, error) {
		return link, nil
	}))
	defer c.Close()

	res, err := c.Join(context.Background(), credentials.SharedSecret{Room: "vault", Secret: "k"}, value.Value{})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != "room full" {
		t.Fatalf("join = %+v", res)
	}
	if factory.Prepared() != 0 {
		t.Error("media bootstrap ran for a denied join")
	}
}

func TestSignalingLoss(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)
	var relayEnd signaling.Link
	a.dial = func(ctx context.Context, serverURL string) (signaling.Link, error) {
		local, remote := signalingtest.Pipe()
		relayEnd = remote
		tr.hub.Attach(remote)
		return local, nil
	}
	tr.join(a, "alice")

	relayEnd.Close()
	e := a.rec.wait(t, "disconnected", nil)
	if e.text != ReasonSignalingLost {
		t.Errorf("disconnect reason = %q", e.text)
	}
	if a.State() != StateIdle {
		t.Errorf("state = %v", a.State())
	}
}
