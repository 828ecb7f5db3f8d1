package cmd

import (
	"fmt"
	"os"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/logging"
	"github.com/BioHazard786/roomlink/internal/ui"
	"github.com/BioHazard786/roomlink/internal/version"
	"github.com/spf13/cobra"
)

var globalOpts config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roomlink",
	Short: "Multi-peer rooms with messaging and file transfer over WebRTC",
	Long: `roomlink joins peers into rooms through a small signaling relay and connects every
pair of members directly over WebRTC data channels. Members exchange messages and
files without the relay ever seeing the payload.`,
	Version: version.Get(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(globalOpts.LogLevel)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalOpts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&globalOpts.ConfigFile, "config", "c", "", "Config file (yaml, json or toml)")
	flags.StringVar(&globalOpts.ServerURL, "server", "", "Relay websocket URL")
	flags.StringVar(&globalOpts.STUNServer, "stun", "", "Custom STUN server")
	flags.StringVar(&globalOpts.TURNServer, "turn", "", "Custom TURN server")
	flags.StringVar(&globalOpts.TURNUser, "turn-user", "", "TURN username")
	flags.StringVar(&globalOpts.TURNPass, "turn-pass", "", "TURN password")
	flags.BoolVarP(&globalOpts.ForceRelay, "relay", "r", false, "Force relay mode")
	flags.StringVar(&globalOpts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}
