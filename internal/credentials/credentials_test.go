package credentials

import (
	"errors"
	"testing"
	"time"
)

var start = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestCalculateIsStableAndKeyed(t *testing.T) {
	a := Calculate("lobby", 2, start, "s3cret")
	b := Calculate("lobby", 2, start, "s3cret")
	if a != b {
		t.Fatalf("Calculate not deterministic: %q vs %q", a, b)
	}
	if a == Calculate("lobby", 2, start, "other") {
		t.Errorf("different secrets produced the same credential")
	}
	if a == Calculate("lobby", 3, start, "s3cret") {
		t.Errorf("different durations produced the same credential")
	}
	if a == Calculate("lobby", 2, start.Add(time.Second), "s3cret") {
		t.Errorf("different start times produced the same credential")
	}
}

func TestVerifyNeedsMatchingStartAndDuration(t *testing.T) {
	tk, err := SharedSecret{Room: "lobby", Secret: "s3cret", Start: start, Duration: 2}.Resolve("ws://x/ws")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !Verify(tk, "s3cret") {
		t.Fatalf("Verify rejected its own ticket")
	}

	shifted := tk
	shifted.Duration = 4
	if Verify(shifted, "s3cret") {
		t.Errorf("Verify accepted a ticket with a changed duration")
	}
}

func TestCheckWindow(t *testing.T) {
	tk := Ticket{Start: start, Duration: 1}

	tests := []struct {
		now  time.Time
		want error
	}{
		{start.Add(30 * time.Minute), nil},
		{start.Add(-time.Hour), ErrNotYetValid},
		{start.Add(2 * time.Hour), ErrExpired},
	}
	for _, tt := range tests {
		if err := tk.Check(tt.now); !errors.Is(err, tt.want) {
			t.Errorf("Check(%v) = %v, want %v", tt.now, err, tt.want)
		}
	}
}

func TestURLRoundTrip(t *testing.T) {
	tk, _ := SharedSecret{Room: "team room", Secret: "k", Start: start, Duration: 1.5}.Resolve("wss://relay.example/ws")

	raw, err := BuildURL(tk)
	if err != nil {
		t.Fatalf("BuildURL: %v", err)
	}
	got, err := URL(raw).Resolve("ignored")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got.ServerURL != "wss://relay.example/ws" {
		t.Errorf("ServerURL = %q", got.ServerURL)
	}
	if got.Room != tk.Room || got.Credential != tk.Credential || got.Duration != 1.5 || !got.Start.Equal(start) {
		t.Errorf("ticket = %+v, want %+v", got, tk)
	}
	if !Verify(got, "k") {
		t.Errorf("parsed ticket no longer verifies")
	}
}

func TestPrecomputedRequiresAllFields(t *testing.T) {
	_, err := Precomputed{Room: "r", Credential: "c", Duration: 1}.Resolve("ws://x")
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestParseURLRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"not a url", "ws://host/ws?room=r", "/relative?room=r&cred=c"} {
		if _, err := ParseURL(raw); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ParseURL(%q) = %v, want ErrInvalidURL", raw, err)
		}
	}
}
