package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/ui"
)

func TestCredentialsCommand(t *testing.T) {
	saved := credFlags
	t.Cleanup(func() { credFlags = saved })
	credFlags.secret = "s3cret"
	credFlags.start = "2026-10-19T10:00:00Z"
	credFlags.duration = 2

	var out bytes.Buffer
	credentialsCmd.SetOut(&out)
	t.Cleanup(func() { credentialsCmd.SetOut(nil) })

	if err := credentialsCmd.RunE(credentialsCmd, []string{"team-room"}); err != nil {
		t.Fatalf("credentials: %v", err)
	}

	start := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	cred := credentials.Calculate("team-room", 2, start, "s3cret")
	got := out.String()
	for _, want := range []string{cred, "room=team-room", ui.IconCopy, "Share the join URL"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCredentialsCommandNeedsSecret(t *testing.T) {
	saved := credFlags
	t.Cleanup(func() { credFlags = saved })
	credFlags.secret = ""

	if err := credentialsCmd.RunE(credentialsCmd, []string{"team-room"}); err == nil {
		t.Fatal("credentials without --secret succeeded")
	}
}
