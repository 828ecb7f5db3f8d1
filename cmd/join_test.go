package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/value"
)

func resetJoinFlags(t *testing.T) {
	t.Helper()
	saved := joinFlags
	t.Cleanup(func() { joinFlags = saved })
	joinFlags.secret, joinFlags.credential, joinFlags.start, joinFlags.url = "", "", "", ""
	joinFlags.duration = credentials.DefaultDuration
}

func TestTicketSource(t *testing.T) {
	start := "2026-10-19T10:00:00Z"

	tests := []struct {
		name    string
		room    string
		set     func()
		want    any
		wantErr bool
	}{
		{name: "shared secret", room: "r1", set: func() { joinFlags.secret = "s" }, want: credentials.SharedSecret{}},
		{name: "precomputed", room: "r1", set: func() { joinFlags.credential = "abc"; joinFlags.start = start }, want: credentials.Precomputed{}},
		{name: "precomputed without start", room: "r1", set: func() { joinFlags.credential = "abc" }, wantErr: true},
		{name: "bad start", room: "r1", set: func() { joinFlags.credential = "abc"; joinFlags.start = "yesterday" }, wantErr: true},
		{name: "url without room", set: func() { joinFlags.url = "ws://relay/ws?room=r" }, want: credentials.URL("")},
		{name: "no room", set: func() {}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetJoinFlags(t)
			tt.set()
			src, err := ticketSource(tt.room)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ticketSource() = %T, want error", src)
				}
				return
			}
			if err != nil {
				t.Fatalf("ticketSource() error: %v", err)
			}
			switch tt.want.(type) {
			case credentials.SharedSecret:
				if _, ok := src.(credentials.SharedSecret); !ok {
					t.Errorf("got %T", src)
				}
			case credentials.Precomputed:
				p, ok := src.(credentials.Precomputed)
				if !ok {
					t.Fatalf("got %T", src)
				}
				if !p.Start.Equal(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)) {
					t.Errorf("start = %v", p.Start)
				}
			case credentials.URL:
				if _, ok := src.(credentials.URL); !ok {
					t.Errorf("got %T", src)
				}
			}
		})
	}
}

func TestPrepareOutgoing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(file, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "photos")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	infos, cleanup, err := prepareOutgoing([]string{file, sub})
	if err != nil {
		t.Fatalf("prepareOutgoing: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d files, want 2", len(infos))
	}
	if infos[0].Name != "notes.txt" || infos[1].Name != "photos.zip" {
		t.Errorf("names = %q, %q", infos[0].Name, infos[1].Name)
	}
	archive := infos[1].Path
	if _, err := os.Stat(archive); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	cleanup()
	if _, err := os.Stat(archive); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("archive not removed by cleanup: %v", err)
	}

	if _, _, err := prepareOutgoing([]string{filepath.Join(dir, "missing.bin")}); err == nil {
		t.Error("missing file accepted")
	}
}

func TestPeerName(t *testing.T) {
	tests := []struct {
		in   value.Value
		want string
	}{
		{value.String("alice"), "alice"},
		{value.Map(value.Entry{Key: "name", Value: value.String("bob")}), "bob"},
		{value.Map(value.Entry{Key: "avatar", Value: value.String("x")}), ""},
		{value.Value{}, ""},
	}
	for _, tt := range tests {
		if got := peerName(tt.in); got != tt.want {
			t.Errorf("peerName(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
