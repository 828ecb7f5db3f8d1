// Package credentials computes and checks the time-bounded room tickets a
// peer presents when joining.
package credentials

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultDuration is used when a shared-secret join leaves Duration unset.
const DefaultDuration = 2.0 // hours

var (
	ErrMissingField = errors.New("credential field missing")
	ErrInvalidURL   = errors.New("invalid room URL")
	ErrNotYetValid  = errors.New("credential not yet valid")
	ErrExpired      = errors.New("credential expired")
)

// Ticket is everything the relay needs to admit a peer.
type Ticket struct {
	ServerURL  string
	Room       string
	Credential string
	Start      time.Time
	Duration   float64 // hours
}

// Expires is the end of the ticket's validity window.
func (t Ticket) Expires() time.Time {
	return t.Start.Add(time.Duration(t.Duration * float64(time.Hour)))
}

// Check validates the time window only; the signature is checked by Verify.
func (t Ticket) Check(now time.Time) error {
	if now.Before(t.Start.Add(-time.Minute)) {
		return ErrNotYetValid
	}
	if now.After(t.Expires()) {
		return ErrExpired
	}
	return nil
}

// Calculate signs room, duration and start with secret:
// base64(HMAC-SHA1(secret, room + "_" + duration + "_" + start)).
func Calculate(room string, duration float64, start time.Time, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(signingString(room, duration, start)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether t.Credential was produced by Calculate with secret
// and the ticket's own start and duration.
func Verify(t Ticket, secret string) bool {
	want := Calculate(t.Room, t.Duration, t.Start, secret)
	return hmac.Equal([]byte(want), []byte(t.Credential))
}

func signingString(room string, duration float64, start time.Time) string {
	return room + "_" + formatDuration(duration) + "_" + FormatStart(start)
}

// FormatStart is the canonical wire form of a start time.
func FormatStart(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func formatDuration(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

// Source produces a ticket for a join. The three implementations below are
// the only supported forms.
type Source interface {
	Resolve(serverURL string) (Ticket, error)
}

// SharedSecret computes the credential locally. Convenient for tools and
// tests; production deployments should hand out Precomputed tickets.
type SharedSecret struct {
	Room     string
	Secret   string
	Start    time.Time
	Duration float64
}

func (s SharedSecret) Resolve(serverURL string) (Ticket, error) {
	if s.Room == "" {
		return Ticket{}, fmt.Errorf("shared secret: room: %w", ErrMissingField)
	}
	start := s.Start
	if start.IsZero() {
		start = time.Now()
	}
	start = start.UTC().Truncate(time.Second)
	duration := s.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Ticket{
		ServerURL:  serverURL,
		Room:       s.Room,
		Credential: Calculate(s.Room, duration, start, s.Secret),
		Start:      start,
		Duration:   duration,
	}, nil
}

// Precomputed carries a credential signed elsewhere. Start and Duration must
// match the values used when signing.
type Precomputed struct {
	Room       string
	Credential string
	Start      time.Time
	Duration   float64
}

func (p Precomputed) Resolve(serverURL string) (Ticket, error) {
	switch {
	case p.Room == "":
		return Ticket{}, fmt.Errorf("precomputed: room: %w", ErrMissingField)
	case p.Credential == "":
		return Ticket{}, fmt.Errorf("precomputed: credential: %w", ErrMissingField)
	case p.Start.IsZero():
		return Ticket{}, fmt.Errorf("precomputed: start time: %w", ErrMissingField)
	case p.Duration <= 0:
		return Ticket{}, fmt.Errorf("precomputed: duration: %w", ErrMissingField)
	}
	return Ticket{
		ServerURL:  serverURL,
		Room:       p.Room,
		Credential: p.Credential,
		Start:      p.Start.UTC().Truncate(time.Second),
		Duration:   p.Duration,
	}, nil
}

// URL is a fully precomputed join URL as produced by BuildURL.
type URL string

func (u URL) Resolve(string) (Ticket, error) {
	return ParseURL(string(u))
}

// BuildURL renders t as ws(s)://host/path?room=&cred=&start=&duration=.
func BuildURL(t Ticket) (string, error) {
	u, err := url.Parse(t.ServerURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	q := u.Query()
	q.Set("room", t.Room)
	q.Set("cred", t.Credential)
	q.Set("start", FormatStart(t.Start))
	q.Set("duration", formatDuration(t.Duration))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseURL is the inverse of BuildURL. The ticket's ServerURL has the
// query stripped.
func ParseURL(raw string) (Ticket, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Ticket{}, fmt.Errorf("%w: missing scheme or host", ErrInvalidURL)
	}

	q := u.Query()
	t := Ticket{Room: q.Get("room"), Credential: q.Get("cred")}
	if t.Room == "" || t.Credential == "" {
		return Ticket{}, fmt.Errorf("%w: room and cred are required", ErrInvalidURL)
	}
	if t.Start, err = time.Parse(time.RFC3339, q.Get("start")); err != nil {
		return Ticket{}, fmt.Errorf("%w: start: %v", ErrInvalidURL, err)
	}
	if t.Duration, err = strconv.ParseFloat(q.Get("duration"), 64); err != nil || t.Duration <= 0 {
		return Ticket{}, fmt.Errorf("%w: duration", ErrInvalidURL)
	}

	u.RawQuery = ""
	t.ServerURL = u.String()
	return t, nil
}
