// Package call is the single entry point the presentation layer consumes:
// one Controller per call, composing signaling, negotiation, screen share,
// and file transfer behind connect/disconnect and an aggregated snapshot.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
	"github.com/helpdeck/callkit/internal/lifecycle"
	"github.com/helpdeck/callkit/internal/media"
	"github.com/helpdeck/callkit/internal/rtc"
	"github.com/helpdeck/callkit/internal/signalclient"
)

// Options configures one call session.
type Options struct {
	CallID     domain.CallID
	Kind       domain.CallKind
	RelayURL   string
	Token      string
	ICEServers []webrtc.ICEServer
	Source     media.Source
	// Lifecycle is optional; EndCall needs it, nothing else does.
	Lifecycle *lifecycle.Client
}

// Snapshot is the aggregated read state for the presentation layer.
type Snapshot struct {
	Phase   rtc.Phase
	Sharing bool
	// LocalTracks is the outgoing capture stream; RemoteTracks is the
	// peer's stream as it has arrived so far.
	LocalTracks   []media.Track
	RemoteTracks  []*webrtc.TrackRemote
	ReceivedFiles []domain.ReceivedFile
	PeerStatus    domain.PeerStatus
	PeerPresent   bool
	// Offline flags a dropped or failed relay connection; retryable, the
	// call object itself is still valid for a reconnect.
	Offline bool
}

// Controller drives one call session. All inbound events arrive on the
// signaling client's single read goroutine; local operations take the
// mutex, so there is one logical thread of control per call.
type Controller struct {
	opts Options

	mu          sync.Mutex
	signals     *signalclient.Client
	neg         *rtc.Negotiator
	share       *rtc.ScreenShare
	files       *rtc.FileChannel
	received    []domain.ReceivedFile
	peerStatus  domain.PeerStatus
	peerPresent bool
	offline     bool
	muted       bool
	videoOn     bool
	// torn marks the current session as released; Connect arms a fresh
	// session, so the once-per-session teardown guard resets with it.
	torn bool
}

func NewController(opts Options) (*Controller, error) {
	if opts.CallID == "" {
		return nil, fmt.Errorf("call: missing call id")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("call: missing media source")
	}
	return &Controller{opts: opts, videoOn: opts.Kind.WantsVideo()}, nil
}

// Connect joins the relay channel and drives negotiation. The initiator is
// always the offerer; the invited party only ever answers.
func (c *Controller) Connect(ctx context.Context, asInitiator bool) error {
	c.mu.Lock()
	if c.signals != nil && !c.torn {
		c.mu.Unlock()
		return fmt.Errorf("call: already connected")
	}
	c.mu.Unlock()

	role := rtc.RoleAnswerer
	if asInitiator {
		role = rtc.RoleOfferer
	}

	signals, err := signalclient.Dial(ctx, c.opts.RelayURL, c.opts.Token, signalclient.Handlers{
		OnSignal:     c.onSignal,
		OnCallState:  c.onCallState,
		OnPeerJoined: c.onPeerJoined,
		OnPeerLeft:   c.onPeerLeft,
		OnCallEnded:  c.onCallEnded,
		OnStatus:     c.onStatus,
		OnDisconnect: c.onDisconnect,
	})
	if err != nil {
		return err
	}

	neg, err := rtc.NewNegotiator(c.opts.ICEServers, role, c.opts.Kind, c.opts.Source, signals, rtc.Events{
		OnNegotiationFailed: c.onNegotiationFailed,
		OnDataChannel:       c.onDataChannel,
	})
	if err != nil {
		signals.Close()
		return fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, err)
	}

	share := rtc.NewScreenShare(c.opts.Source, func() (rtc.TrackSender, bool) {
		sender, ok := neg.VideoSender()
		if !ok {
			return nil, false
		}
		return sender, true
	})

	c.mu.Lock()
	c.signals = signals
	c.neg = neg
	c.share = share
	c.offline = false
	c.torn = false
	c.mu.Unlock()

	// Media is attached before joining the channel so a call-state reply can
	// never trigger an offer against an empty connection.
	if err := neg.Start(); err != nil {
		c.Disconnect()
		return err
	}
	if err := signals.Join(c.opts.CallID); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// Disconnect tears the current session down: screen share, peer connection,
// relay membership, socket, each released exactly once per session. Calling
// it again is a no-op until Connect opens the next session.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	share, neg, signals := c.share, c.neg, c.signals
	// The file channel died with the peer connection; drop it so a
	// reconnected session cannot send into the old one.
	c.files = nil
	c.mu.Unlock()

	if share != nil {
		if err := share.Stop(); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("stop share on disconnect")
		}
	}
	if neg != nil {
		neg.Close()
	}
	if signals != nil {
		if err := signals.Leave(); err != nil {
			log.Debug().Err(err).Str("module", "call").Msg("leave on disconnect")
		}
		signals.Close()
	}
	log.Info().Str("module", "call").Str("call_id", string(c.opts.CallID)).Msg("disconnected")
}

// EndCall hangs up: the call record goes terminal and the session tears
// down locally.
func (c *Controller) EndCall(ctx context.Context) error {
	defer c.Disconnect()
	if c.opts.Lifecycle == nil {
		return nil
	}
	if _, err := c.opts.Lifecycle.End(ctx, c.opts.CallID); err != nil {
		return err
	}
	return nil
}

// SetMuted toggles the local audio track and advertises the new state
// out-of-band so the peer's UI can follow without inspecting media.
func (c *Controller) SetMuted(muted bool) error {
	c.mu.Lock()
	neg, signals := c.neg, c.signals
	c.muted = muted
	videoOn := c.videoOn
	c.mu.Unlock()
	if neg == nil {
		return nil
	}
	if err := neg.SetTrackEnabled(webrtc.RTPCodecTypeAudio, !muted); err != nil {
		return err
	}
	if signals == nil {
		return nil
	}
	return signals.SendStatus(domain.PeerStatus{Muted: muted, VideoEnabled: videoOn})
}

// SetVideoEnabled toggles the local video track; same out-of-band status
// contract as SetMuted.
func (c *Controller) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	neg, signals := c.neg, c.signals
	c.videoOn = enabled
	muted := c.muted
	c.mu.Unlock()
	if neg == nil {
		return nil
	}
	if err := neg.SetTrackEnabled(webrtc.RTPCodecTypeVideo, enabled); err != nil {
		return err
	}
	if signals == nil {
		return nil
	}
	return signals.SendStatus(domain.PeerStatus{Muted: muted, VideoEnabled: enabled})
}

func (c *Controller) ShareScreen() error {
	c.mu.Lock()
	share := c.share
	c.mu.Unlock()
	if share == nil {
		return fmt.Errorf("%w: not connected", domain.ErrScreenShareDenied)
	}
	return share.Start()
}

func (c *Controller) StopShare() error {
	c.mu.Lock()
	share := c.share
	c.mu.Unlock()
	if share == nil {
		return nil
	}
	return share.Stop()
}

// SendFile ships one blob to the peer over the file channel.
func (c *Controller) SendFile(name string, data []byte) error {
	c.mu.Lock()
	files := c.files
	c.mu.Unlock()
	if files == nil {
		return fmt.Errorf("%w: file channel not open", domain.ErrFileTransferAborted)
	}
	return files.Send(name, data)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Phase:       rtc.PhaseIdle,
		PeerStatus:  c.peerStatus,
		PeerPresent: c.peerPresent,
		Offline:     c.offline,
	}
	if c.neg != nil {
		snap.Phase = c.neg.Phase()
		snap.LocalTracks = c.neg.LocalTracks()
		snap.RemoteTracks = c.neg.RemoteTracks()
	}
	if c.share != nil {
		snap.Sharing = c.share.Active()
	}
	snap.ReceivedFiles = make([]domain.ReceivedFile, len(c.received))
	copy(snap.ReceivedFiles, c.received)
	return snap
}

// Negotiator exposes the underlying negotiator for advanced callers (and
// the happy-path integration tests); normal consumers stay on the façade.
func (c *Controller) Negotiator() *rtc.Negotiator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.neg
}

func (c *Controller) onSignal(env domain.SignalEnvelope) {
	c.mu.Lock()
	neg := c.neg
	c.mu.Unlock()
	if neg == nil {
		return
	}

	var err error
	switch env.Type {
	case domain.SignalOffer:
		var sd rtc.SessionDescription
		if err = json.Unmarshal(env.Payload, &sd); err == nil {
			err = neg.HandleOffer(sd.SDP)
		}
	case domain.SignalAnswer:
		var sd rtc.SessionDescription
		if err = json.Unmarshal(env.Payload, &sd); err == nil {
			err = neg.HandleAnswer(sd.SDP)
		}
	case domain.SignalCandidate:
		var ci webrtc.ICECandidateInit
		if err = json.Unmarshal(env.Payload, &ci); err == nil {
			err = neg.HandleCandidate(ci)
		}
	default:
		log.Warn().Str("module", "call").Str("signal", string(env.Type)).Msg("unknown signal type")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "call").Str("signal", string(env.Type)).Msg("handle signal")
	}
}

func (c *Controller) onCallState(others []domain.ParticipantID) {
	c.mu.Lock()
	c.peerPresent = len(others) > 0
	neg := c.neg
	present := c.peerPresent
	c.mu.Unlock()
	if present && neg != nil && neg.Role() == rtc.RoleOfferer {
		c.offerIfPending(neg)
	}
}

// onPeerJoined is also the offer retry path: an offer relayed into an empty
// channel went nowhere, so the offerer re-issues it when the peer actually
// arrives rather than on a wall clock.
func (c *Controller) onPeerJoined(pid domain.ParticipantID) {
	log.Info().Str("module", "call").Str("peer", string(pid)).Msg("peer joined")
	c.mu.Lock()
	c.peerPresent = true
	neg := c.neg
	c.mu.Unlock()
	if neg != nil && neg.Role() == rtc.RoleOfferer && neg.Phase() != rtc.PhaseConnected {
		c.offerIfPending(neg)
	}
}

func (c *Controller) offerIfPending(neg *rtc.Negotiator) {
	if err := neg.Offer(); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("send offer")
	}
}

func (c *Controller) onPeerLeft(pid domain.ParticipantID) {
	log.Info().Str("module", "call").Str("peer", string(pid)).Msg("peer left")
	c.mu.Lock()
	c.peerPresent = false
	c.mu.Unlock()
}

func (c *Controller) onCallEnded(pid domain.ParticipantID) {
	log.Info().Str("module", "call").Str("peer", string(pid)).Msg("call ended by peer")
	c.mu.Lock()
	c.peerPresent = false
	c.mu.Unlock()
	c.Disconnect()
}

func (c *Controller) onStatus(pid domain.ParticipantID, st domain.PeerStatus) {
	log.Debug().Str("module", "call").Str("peer", string(pid)).Bool("muted", st.Muted).Bool("video", st.VideoEnabled).Msg("peer status")
	c.mu.Lock()
	c.peerStatus = st
	c.mu.Unlock()
}

func (c *Controller) onDisconnect(err error) {
	// Retryable offline status, not a crash: the caller decides whether to
	// reconnect or give up.
	log.Warn().Err(err).Str("module", "call").Msg("signaling offline")
	c.mu.Lock()
	c.offline = true
	c.mu.Unlock()
}

func (c *Controller) onNegotiationFailed(err error) {
	// Not auto-retried: recovery is a caller-initiated full teardown and
	// reconnect.
	log.Error().Err(err).Str("module", "call").Msg("negotiation failed")
}

func (c *Controller) onDataChannel(dc *webrtc.DataChannel) {
	files := rtc.NewFileChannel(dc, func(f domain.ReceivedFile) {
		log.Info().Str("module", "call").Str("name", f.Name).Int64("size", f.Size).Msg("file received")
		c.mu.Lock()
		c.received = append(c.received, f)
		c.mu.Unlock()
	})
	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
}
