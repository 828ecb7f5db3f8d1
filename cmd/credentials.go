package cmd

import (
	"fmt"
	"time"

	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/ui"
	"github.com/spf13/cobra"
)

var credFlags struct {
	secret   string
	start    string
	duration float64
}

var credentialsCmd = &cobra.Command{
	Use:     "credentials <room>",
	Aliases: []string{"cred"},
	Short:   "Compute a room credential and join URL",
	Long: `Compute the credential a relay with the same secret will accept for a room,
and print a join URL that carries it. Hand the URL to peers instead of the secret.

Examples:
  roomlink credentials team-room --secret s3cret
  roomlink credentials team-room --secret s3cret --start 2026-10-20T09:00:00Z --duration 8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if credFlags.secret == "" {
			return fmt.Errorf("--secret is required")
		}
		start, err := parseStart(credFlags.start)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ticket, err := credentials.SharedSecret{
			Room:     args[0],
			Secret:   credFlags.secret,
			Start:    start,
			Duration: credFlags.duration,
		}.Resolve(cfg.ServerURL)
		if err != nil {
			return err
		}
		link, err := credentials.BuildURL(ticket)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", ui.BoldStyle.Render("Credential:"), ticket.Credential)
		fmt.Fprintf(out, "%s %s\n", ui.BoldStyle.Render("Valid:     "),
			fmt.Sprintf("%s to %s", credentials.FormatStart(ticket.Start), credentials.FormatStart(ticket.Expires())))
		fmt.Fprintf(out, "%s %s\n", ui.BoldStyle.Render("Join URL:  "), link)
		fmt.Fprintf(out, "\n%s %s\n", ui.IconCopy, ui.MutedStyle.Render("Share the join URL; it stops working when the credential expires."))
		return nil
	},
}

// parseStart accepts RFC 3339 or an empty string for now.
func parseStart(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", s, err)
	}
	return t, nil
}

func init() {
	rootCmd.AddCommand(credentialsCmd)

	credentialsCmd.Flags().StringVarP(&credFlags.secret, "secret", "s", "", "Shared secret configured on the relay")
	credentialsCmd.Flags().StringVar(&credFlags.start, "start", "", "Start of validity, RFC 3339 (default now)")
	credentialsCmd.Flags().Float64VarP(&credFlags.duration, "duration", "d", credentials.DefaultDuration, "Validity in hours")
}
