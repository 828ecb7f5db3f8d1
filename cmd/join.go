package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/roomlink/internal/credentials"
	"github.com/BioHazard786/roomlink/internal/filetransfer"
	"github.com/BioHazard786/roomlink/internal/files"
	"github.com/BioHazard786/roomlink/internal/logging"
	"github.com/BioHazard786/roomlink/internal/room"
	"github.com/BioHazard786/roomlink/internal/rtc"
	"github.com/BioHazard786/roomlink/internal/ui"
	"github.com/BioHazard786/roomlink/internal/utils"
	"github.com/BioHazard786/roomlink/internal/value"
	"github.com/spf13/cobra"
)

// leaveTimeout bounds the wait for an orderly leave after the user quits.
const leaveTimeout = 10 * time.Second

var joinFlags struct {
	secret     string
	credential string
	start      string
	duration   float64
	url        string
	name       string
	send       []string
	asset      string
	message    string
	accept     bool
	dir        string
	exit       bool
	lock       bool
	plain      bool
	maxPeers   int
}

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room to chat and exchange files with its members",
	Long: `Join a room through the relay and connect directly to every other member.

A room is entered with one of:
  --secret        the relay's shared secret (the credential is computed locally)
  --credential    a precomputed credential with its --start and --duration
  --url           a full join URL as printed by "roomlink credentials"

Examples:
  roomlink join team-room --secret s3cret --name alice
  roomlink join team-room --secret s3cret --send report.pdf --send photos/ --exit
  roomlink join --url "wss://relay.example.com/ws?room=team-room&cred=...&start=...&duration=2"
  roomlink join team-room --credential <cred> --start 2026-10-19T10:00:00Z --duration 2 --accept`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomName := ""
		if len(args) == 1 {
			roomName = args[0]
		}
		src, err := ticketSource(roomName)
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), src)
	},
}

// ticketSource picks the credential form from the flags.
func ticketSource(roomName string) (credentials.Source, error) {
	switch {
	case joinFlags.url != "":
		return credentials.URL(joinFlags.url), nil
	case roomName == "":
		return nil, fmt.Errorf("a room name or --url is required")
	case joinFlags.credential != "":
		if joinFlags.start == "" {
			return nil, fmt.Errorf("--credential needs --start")
		}
		start, err := parseStart(joinFlags.start)
		if err != nil {
			return nil, err
		}
		return credentials.Precomputed{
			Room:       roomName,
			Credential: joinFlags.credential,
			Start:      start,
			Duration:   joinFlags.duration,
		}, nil
	}
	return credentials.SharedSecret{
		Room:     roomName,
		Secret:   joinFlags.secret,
		Duration: joinFlags.duration,
	}, nil
}

func joinRoom(ctx context.Context, src credentials.Source) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if joinFlags.dir != "" {
		cfg.Session.DownloadDir = joinFlags.dir
	}
	if joinFlags.maxPeers > 0 {
		cfg.Session.MaxPeerCount = joinFlags.maxPeers
	}
	if joinFlags.accept && !cfg.Session.FileTransfer {
		return fmt.Errorf("--accept needs file transfer enabled in the session config")
	}

	outgoing, cleanup, err := prepareOutgoing(joinFlags.send)
	if err != nil {
		return err
	}
	defer cleanup()
	if len(outgoing) > 0 {
		if !cfg.Session.FileTransfer {
			return fmt.Errorf("--send needs file transfer enabled in the session config")
		}
		displayFileTable(outgoing)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := rtc.NewPionFactory(cfg, logging.For("rtc"))
	ctrl := room.New(cfg, factory, room.WithLogger(logging.For("room")))
	defer ctrl.Close()

	view := ui.NewSessionUI("", ui.SessionOptions{Plain: joinFlags.plain || !ui.Interactive()})
	s := newRoomSession(ctrl, view, logging.For("cli"))
	s.outgoing = outgoing
	s.asset = filetransfer.ParseAssetType(joinFlags.asset)
	s.autoAccept = joinFlags.accept
	s.exitWhenDone = joinFlags.exit && len(outgoing) > 0
	s.register()
	defer s.unregister()
	view.SetAnswerFunc(s.answer)
	view.SetQuitFunc(s.leave)

	var userInfo value.Value
	if joinFlags.name != "" {
		userInfo = value.Map(value.Entry{Key: "name", Value: value.String(joinFlags.name)})
	}

	fmt.Println()
	sp := ui.RunConnectionSpinner("Joining room...")
	res, err := ctrl.Join(ctx, src, userInfo)
	if err != nil {
		sp.Error("Could not join the room")
		return fmt.Errorf("join room: %w", err)
	}
	if !res.OK {
		sp.Error("Join denied")
		return fmt.Errorf("join denied: %s", res.Reason)
	}
	sp.Stop()

	ui.RenderRoomInfo(ui.RoomInfo{RoomID: res.RoomID, SelfID: res.SelfID, Locked: ctrl.IsLocked()})
	view.SetRoom(res.RoomID)
	view.SetLocked(ctrl.IsLocked())
	view.SetRecording(ctrl.IsRecording())
	view.Start()

	if joinFlags.lock {
		if err := ctrl.Lock(); err != nil {
			view.Println("%s lock: %v", ui.IconError, err)
		}
	}
	if joinFlags.message != "" {
		if err := ctrl.SendCustomMessage(value.String(joinFlags.message), ""); err != nil {
			view.Println("%s message: %v", ui.IconError, err)
		}
	}

	select {
	case <-ctx.Done():
		s.leave()
	case <-s.done:
	}

	timedOut := false
	select {
	case <-s.done:
	case <-time.After(leaveTimeout):
		timedOut = true
	}
	view.Stop()
	if timedOut {
		ui.PrintWarningf("Timed out after %s leaving the room", leaveTimeout)
	}

	fmt.Println()
	fmt.Println(ui.PeerTableView(s.peerRows(), time.Now()))
	if rows := view.Progress.Summary(); len(rows) > 0 {
		ui.RenderTransferSummary(rows)
	}
	reason := s.disconnectReason()
	if reason != "" && reason != room.ReasonLeft {
		return fmt.Errorf("disconnected: %s", reason)
	}
	if reason == room.ReasonLeft {
		ui.PrintSuccessf("Left room %s", res.RoomID)
	}
	return nil
}

// prepareOutgoing validates --send paths. Directories are archived into a
// temporary directory removed by the returned cleanup.
func prepareOutgoing(paths []string) ([]files.FileInfo, func(), error) {
	cleanup := func() {}
	if len(paths) == 0 {
		return nil, cleanup, nil
	}

	var regular, dirs []string
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			dirs = append(dirs, p)
		} else {
			regular = append(regular, p)
		}
	}

	var out []files.FileInfo
	if len(regular) > 0 {
		infos, err := files.ValidateFiles(regular)
		if err != nil {
			return nil, cleanup, err
		}
		out = append(out, infos...)
	}
	if len(dirs) == 0 {
		return out, cleanup, nil
	}

	tmp, err := os.MkdirTemp("", "roomlink-send-*")
	if err != nil {
		return nil, cleanup, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup = func() { os.RemoveAll(tmp) }

	sp := ui.RunSpinner("Archiving directories...")
	for _, d := range dirs {
		info, err := files.Archive(d, tmp)
		if err != nil {
			sp.Error("Archiving failed")
			cleanup()
			return nil, func() {}, err
		}
		out = append(out, info)
	}
	sp.Success(fmt.Sprintf("Archived %d directories", len(dirs)))
	return out, cleanup, nil
}

func displayFileTable(infos []files.FileInfo) {
	items := make([]ui.FileTableItem, len(infos))
	for i, f := range infos {
		items[i] = ui.FileTableItem{Index: i + 1, Name: f.Name, Size: f.Size, Type: f.Type}
	}
	fmt.Println()
	ui.RenderFileTable(items)
	ui.PrintInfof("%s %d file(s), %s, offered to every peer that joins", ui.IconFile, len(infos), utils.FormatSize(files.GetTotalSize(infos)))
}

func init() {
	rootCmd.AddCommand(joinCmd)

	f := joinCmd.Flags()
	f.StringVarP(&joinFlags.secret, "secret", "s", "", "Shared secret configured on the relay")
	f.StringVar(&joinFlags.credential, "credential", "", "Precomputed credential")
	f.StringVar(&joinFlags.start, "start", "", "Credential start time, RFC 3339")
	f.Float64VarP(&joinFlags.duration, "duration", "d", credentials.DefaultDuration, "Credential validity in hours")
	f.StringVarP(&joinFlags.url, "url", "u", "", "Full join URL")
	f.StringVarP(&joinFlags.name, "name", "n", "", "Display name shared with peers")
	f.StringArrayVar(&joinFlags.send, "send", nil, "File or directory to send to every peer (repeatable)")
	f.StringVar(&joinFlags.asset, "asset", "file", "Asset type of sent files (file, music, photo)")
	f.StringVarP(&joinFlags.message, "message", "m", "", "Message broadcast once after joining")
	f.BoolVarP(&joinFlags.accept, "accept", "y", false, "Accept incoming files without asking")
	f.StringVarP(&joinFlags.dir, "dir", "o", "", "Directory for received files")
	f.BoolVar(&joinFlags.exit, "exit", false, "Leave once every peer has received the --send files")
	f.BoolVar(&joinFlags.lock, "lock", false, "Lock the room after joining")
	f.BoolVar(&joinFlags.plain, "plain", false, "Print events line by line instead of the live view")
	f.IntVar(&joinFlags.maxPeers, "max-peers", 0, "Connect to at most this many peers (0 for no limit)")
}
