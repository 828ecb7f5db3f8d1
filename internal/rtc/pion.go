package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/roomlink/internal/config"
	"github.com/BioHazard786/roomlink/internal/utils"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const dataChannelLabel = "roomlink"

// PionFactory builds Conns on pion/webrtc.
type PionFactory struct {
	cfg *config.Config
	log zerolog.Logger

	mu  sync.Mutex
	api *pion.API
}

func NewPionFactory(cfg *config.Config, logger zerolog.Logger) *PionFactory {
	return &PionFactory{cfg: cfg, log: logger.With().Str("module", "rtc").Logger()}
}

// Prepare registers codecs and network settings. It is idempotent.
func (f *PionFactory) Prepare(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.api != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := f.cfg.Session
	m := &pion.MediaEngine{}
	if s.HasAudio() {
		if err := m.RegisterCodec(audioCodec(s.AudioCodec), pion.RTPCodecTypeAudio); err != nil {
			return fmt.Errorf("register audio codec: %w", err)
		}
	}
	if s.HasVideo() {
		vp8 := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}
		if err := m.RegisterCodec(vp8, pion.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("register video codec: %w", err)
		}
	}

	se := pion.SettingEngine{}
	switch s.Transport {
	case config.TransportTCP:
		se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeTCP4, pion.NetworkTypeTCP6})
	case config.TransportUDP:
		se.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4, pion.NetworkTypeUDP6})
	}

	f.api = pion.NewAPI(pion.WithMediaEngine(m), pion.WithSettingEngine(se))
	f.log.Debug().Str("codec", s.AudioCodec).Str("transport", s.Transport).Msg("media engine ready")
	return nil
}

func audioCodec(name string) pion.RTPCodecParameters {
	if name == config.CodecG722 {
		return pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeG722, ClockRate: 8000},
			PayloadType:        9,
		}
	}
	return pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
}

func (f *PionFactory) configuration() pion.Configuration {
	var iceServers []pion.ICEServer
	if stun := f.cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}

	turnServers := f.cfg.GetTURNServers()
	if turnServers != nil {
		username, password := f.cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (f.cfg.ForceRelay || utils.ShouldForceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}
	return pion.Configuration{ICEServers: iceServers, ICETransportPolicy: policy}
}

func (f *PionFactory) NewConn(localID, remoteID string, h Handlers) (Conn, error) {
	f.mu.Lock()
	api := f.api
	f.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("new conn: factory not prepared")
	}

	pc, err := api.NewPeerConnection(f.configuration())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	s := f.cfg.Session
	c := &pionConn{
		pc:      pc,
		session: s,
		remote:  remoteID,
		h:       h,
		log:     f.log.With().Str("local", localID).Str("peer", remoteID).Logger(),
	}

	if s.HasAudio() {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: direction(s.SendAudio, s.ReceiveAudio),
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	if s.HasVideo() {
		if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
			Direction: direction(s.SendVideo, s.ReceiveVideo),
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	pc.OnICECandidate(c.onCandidate)
	pc.OnConnectionStateChange(c.onConnectionState)
	pc.OnDataChannel(c.attach)
	return c, nil
}

func direction(send, recv bool) pion.RTPTransceiverDirection {
	switch {
	case send && recv:
		return pion.RTPTransceiverDirectionSendrecv
	case send:
		return pion.RTPTransceiverDirectionSendonly
	default:
		return pion.RTPTransceiverDirectionRecvonly
	}
}

type pionConn struct {
	pc      *pion.PeerConnection
	session config.Session
	remote  string
	h       Handlers
	log     zerolog.Logger

	mu        sync.Mutex
	dc        *pion.DataChannel
	state     State
	closed    bool
	remoteSet bool
	pending   []pion.ICECandidateInit
	lowThresh uint64
	onLow     func()
}

func (c *pionConn) Start() error {
	if c.session.DataChannel {
		ordered := true
		dc, err := c.pc.CreateDataChannel(dataChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("create data channel: %w", err)
		}
		c.attach(dc)
	}
	c.setState(StateConnecting)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return c.emitDescription(SignalOffer, offer.SDP)
}

func (c *pionConn) HandleSignal(s Signal) error {
	switch s.Type {
	case SignalOffer:
		c.setState(StateConnecting)
		if err := c.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: s.SDP}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		c.flushCandidates()

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		return c.emitDescription(SignalAnswer, answer.SDP)

	case SignalAnswer:
		if err := c.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: s.SDP}); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		c.flushCandidates()
		return nil

	case SignalCandidate:
		var ice pion.ICECandidateInit
		if err := json.Unmarshal(s.Candidate, &ice); err != nil {
			return fmt.Errorf("parse ICE candidate: %w", err)
		}
		c.mu.Lock()
		if !c.remoteSet {
			c.pending = append(c.pending, ice)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		if err := c.pc.AddICECandidate(ice); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unexpected signal type %q", s.Type)
}

// emitDescription hands the remote a copy of the local SDP with bitrate caps
// applied; the local description itself stays untouched.
func (c *pionConn) emitDescription(kind, raw string) error {
	capped, err := capBitrates(raw, c.session.MaxAudioBitrate, c.session.MaxVideoBitrate, c.session.MaxDataBitrate)
	if err != nil {
		c.log.Warn().Err(err).Msg("bitrate caps not applied")
		capped = raw
	}
	c.emit(Signal{Type: kind, SDP: capped})
	return nil
}

func (c *pionConn) flushCandidates() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ice := range pending {
		if err := c.pc.AddICECandidate(ice); err != nil {
			c.log.Debug().Err(err).Msg("queued candidate rejected")
		}
	}
}

func (c *pionConn) onCandidate(cand *pion.ICECandidate) {
	if cand == nil || !c.allowCandidate(cand.Typ) {
		return
	}
	raw, err := json.Marshal(cand.ToJSON())
	if err != nil {
		return
	}
	c.emit(Signal{Type: SignalCandidate, Candidate: raw})
}

func (c *pionConn) allowCandidate(t pion.ICECandidateType) bool {
	switch t {
	case pion.ICECandidateTypeHost:
		return !c.session.DisableHost
	case pion.ICECandidateTypeSrflx, pion.ICECandidateTypePrflx:
		return !c.session.DisableSTUN
	case pion.ICECandidateTypeRelay:
		return !c.session.DisableTURN
	}
	return true
}

func (c *pionConn) onConnectionState(s pion.PeerConnectionState) {
	c.log.Debug().Str("state", s.String()).Msg("connection state")
	switch s {
	case pion.PeerConnectionStateConnected:
		if !c.session.DataChannel {
			c.setState(StateOpen)
		}
	case pion.PeerConnectionStateFailed:
		c.setState(StateFailed)
	case pion.PeerConnectionStateClosed:
		c.setState(StateClosed)
	}
}

func (c *pionConn) attach(dc *pion.DataChannel) {
	if dc.Label() != dataChannelLabel {
		return
	}

	c.mu.Lock()
	c.dc = dc
	thresh, onLow := c.lowThresh, c.onLow
	c.mu.Unlock()
	if onLow != nil {
		dc.SetBufferedAmountLowThreshold(thresh)
		dc.OnBufferedAmountLow(onLow)
	}

	dc.OnOpen(func() { c.setState(StateOpen) })
	dc.OnClose(func() { c.setState(StateClosed) })
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed && c.h.OnMessage != nil {
			c.h.OnMessage(msg.Data)
		}
	})
}

func (c *pionConn) setState(s State) {
	c.mu.Lock()
	if c.closed || c.state == s || c.state == StateClosed || (c.state == StateFailed && s != StateClosed) {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.h.OnState != nil {
		c.h.OnState(s)
	}
}

func (c *pionConn) emit(s Signal) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed && c.h.OnSignal != nil {
		c.h.OnSignal(s)
	}
}

func (c *pionConn) channel() *pion.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

func (c *pionConn) Send(data []byte) error {
	dc := c.channel()
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *pionConn) IsOpen() bool {
	if !c.session.DataChannel {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.state == StateOpen
	}
	dc := c.channel()
	return dc != nil && dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *pionConn) BufferedAmount() uint64 {
	if dc := c.channel(); dc != nil {
		return dc.BufferedAmount()
	}
	return 0
}

func (c *pionConn) OnBufferedAmountLow(threshold uint64, f func()) {
	c.mu.Lock()
	c.lowThresh, c.onLow = threshold, f
	dc := c.dc
	c.mu.Unlock()
	if dc != nil {
		dc.SetBufferedAmountLowThreshold(threshold)
		dc.OnBufferedAmountLow(f)
	}
}

func (c *pionConn) Stats() Stats {
	c.mu.Lock()
	out := Stats{PeerID: c.remote, State: c.state, Timestamp: time.Now()}
	c.mu.Unlock()

	for _, s := range c.pc.GetStats() {
		switch st := s.(type) {
		case pion.ICECandidatePairStats:
			if !st.Nominated {
				continue
			}
			out.BytesSent += st.BytesSent
			out.BytesReceived += st.BytesReceived
			out.RoundTripTime = max(out.RoundTripTime, time.Duration(st.CurrentRoundTripTime*float64(time.Second)))
		case pion.DataChannelStats:
			out.MessagesSent += st.MessagesSent
			out.MessagesReceived += st.MessagesReceived
		}
	}
	return out
}

func (c *pionConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	c.mu.Unlock()
	return c.pc.Close()
}
