package room

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/BioHazard786/roomlink/internal/protocol"
	"github.com/BioHazard786/roomlink/internal/value"
)

func TestBinaryDataCeiling(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	tests := []struct {
		name string
		size int
		want int
	}{
		{"small", 100, 100},
		{"at ceiling", protocol.MaxBinarySize, protocol.MaxBinarySize},
		{"oversized", 70000, 65456},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i % 251)
			}
			if err := a.SendBinaryData(data, b.SelfID()); err != nil {
				t.Fatal(err)
			}
			e := b.rec.waitPeer(t, "binary", a.SelfID())
			if len(e.data) != tt.want {
				t.Fatalf("received %d bytes, want %d", len(e.data), tt.want)
			}
			if !bytes.Equal(e.data, data[:tt.want]) {
				t.Error("payload corrupted")
			}
		})
	}
}

func TestDCMessage(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	msg := value.Map(value.Entry{Key: "text", Value: value.String("hello")})
	ok, err := a.SendDCMessage(msg, b.SelfID())
	if err != nil || !ok {
		t.Fatalf("SendDCMessage = %v, %v", ok, err)
	}
	e := b.rec.waitPeer(t, "dc", a.SelfID())
	if !value.Equal(e.value, msg) || e.flag {
		t.Errorf("got %v public=%v", e.value, e.flag)
	}

	ok, err = b.SendDCMessage(value.String("all"), "")
	if err != nil || !ok {
		t.Fatalf("broadcast SendDCMessage = %v, %v", ok, err)
	}
	if e := a.rec.waitPeer(t, "dc", b.SelfID()); !e.flag {
		t.Error("broadcast dc message not public")
	}
}

func TestDCMessageWithoutTargets(t *testing.T) {
	tr := newTestRoom(t)
	a := tr.newPeer(nil)
	tr.join(a, "alice")

	ok, err := a.SendDCMessage(value.String("anyone?"), "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("broadcast with no peers reported success")
	}
}

func TestDCMessagePartialFailure(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()
	c := tr.newPeer(nil)
	c.factory.Silent = true
	tr.join(c, "carol")
	a.rec.waitPeer(t, "joined", c.SelfID())

	// carol never answers, so her channel is not open
	ok, err := a.SendDCMessage(value.String("hi"), "")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("send with a closed channel reported success")
	}
	b.rec.waitPeer(t, "dc", a.SelfID())
}

func TestCustomMessage(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()
	c := tr.newPeer(nil)
	tr.join(c, "carol")
	waitActive(t, a, c.SelfID())
	waitActive(t, b, c.SelfID())

	if err := a.SendCustomMessage(value.String("to bob"), b.SelfID()); err != nil {
		t.Fatal(err)
	}
	e := b.rec.waitPeer(t, "custom", a.SelfID())
	if s, _ := e.value.Str(); s != "to bob" || e.flag {
		t.Errorf("private custom = %v public=%v", e.value, e.flag)
	}

	if err := a.SendCustomMessage(value.List(value.String("x")), ""); err != nil {
		t.Fatal(err)
	}
	for _, p := range []*testPeer{b, c} {
		if e := p.rec.waitPeer(t, "custom", a.SelfID()); !e.flag {
			t.Errorf("%s: broadcast custom not public", p.SelfID())
		}
	}
	if got := a.rec.all("custom"); len(got) != 0 {
		t.Errorf("sender received its own custom message: %+v", got)
	}
}

func TestMuteIsNotEchoed(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	if err := a.MuteAudio(true); err != nil {
		t.Fatal(err)
	}
	if e := b.rec.waitPeer(t, "audio", a.SelfID()); !e.flag {
		t.Error("bob saw audio unmuted")
	}
	if err := b.MuteVideo(true); err != nil {
		t.Fatal(err)
	}
	a.rec.waitPeer(t, "video", b.SelfID())

	// b's toggle reached a after a's own broadcast would have
	if got := a.rec.all("audio"); len(got) != 0 {
		t.Errorf("alice observed her own mute: %+v", got)
	}
	if !a.LocalMedia().AudioMuted {
		t.Error("local audio flag not set")
	}

	// no change, no broadcast
	if err := a.MuteAudio(true); err != nil {
		t.Fatal(err)
	}
}

func TestVideoDimensions(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	r := Resolution{Width: 1280, Height: 720, FrameRate: 30}
	if err := a.SetVideoDimensions(r); err != nil {
		t.Fatal(err)
	}
	if e := a.rec.wait(t, "resolution", nil); e.size != r {
		t.Errorf("local resolution = %+v", e.size)
	}
	if e := b.rec.waitPeer(t, "size", a.SelfID()); e.size != r {
		t.Errorf("remote size = %+v", e.size)
	}
}

func TestUserInfoUpdate(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	info := value.Map(value.Entry{Key: "name", Value: value.String("Alice")})
	if err := a.SetUserInfo(info); err != nil {
		t.Fatal(err)
	}
	e := b.rec.waitPeer(t, "userinfo", a.SelfID())
	if !value.Equal(e.value, info) {
		t.Errorf("user info = %v", e.value)
	}
	got, err := b.UserInfo(a.SelfID())
	if err != nil || !value.Equal(got, info) {
		t.Errorf("UserInfo = %v, %v", got, err)
	}
	own, _ := a.UserInfo("")
	if !value.Equal(own, info) {
		t.Errorf("own user info = %v", own)
	}
}

func TestRecording(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	if err := a.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if err := a.StartRecording(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second start: %v", err)
	}
	if e := b.rec.wait(t, "recording", nil); !e.flag {
		t.Error("bob saw recording stopped")
	}
	if !b.IsRecording() {
		t.Error("bob does not report recording")
	}
	if err := a.StopRecording(); err != nil {
		t.Fatal(err)
	}
	b.rec.wait(t, "recording", func(e event) bool { return !e.flag })
}

func TestRefreshConnection(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	if err := a.RefreshConnection(b.SelfID()); err != nil {
		t.Fatal(err)
	}
	waitActive(t, a, b.SelfID())
	waitActive(t, b, a.SelfID())

	for _, p := range []struct{ from, to *testPeer }{{a, b}, {b, a}} {
		ok, err := p.from.SendDCMessage(value.String("after refresh"), p.to.SelfID())
		if err != nil || !ok {
			t.Fatalf("send after refresh = %v, %v", ok, err)
		}
		p.to.rec.waitPeer(t, "dc", p.from.SelfID())
	}

	info, err := a.UserInfo(b.SelfID())
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := info.Str(); s != "bob" {
		t.Errorf("user info lost on refresh: %v", info)
	}
	if got := a.rec.all("left"); len(got) != 0 {
		t.Errorf("refresh reported a leave: %+v", got)
	}
}

func TestStats(t *testing.T) {
	tr := newTestRoom(t)
	a, b := tr.pair()

	if err := a.SendBinaryData(make([]byte, 1000), b.SelfID()); err != nil {
		t.Fatal(err)
	}
	b.rec.waitPeer(t, "binary", a.SelfID())

	s, err := a.Stats(context.Background(), b.SelfID())
	if err != nil {
		t.Fatal(err)
	}
	if s.PeerID != b.SelfID() || s.BytesSent < 1000 || s.MessagesSent == 0 {
		t.Errorf("peer stats = %+v", s)
	}

	total, err := a.Stats(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if total.BytesSent != s.BytesSent {
		t.Errorf("aggregate bytes sent = %d, want %d", total.BytesSent, s.BytesSent)
	}
}
