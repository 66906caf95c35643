// Package rtc owns the peer connection: negotiation, screen sharing, and the
// file-transfer data channel.
package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/helpdeck/callkit/internal/domain"
	"github.com/helpdeck/callkit/internal/media"
)

// Role fixes who offers. The call creator always offers; the invited party
// only ever answers. Glare cannot happen because the roles never swap.
type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

// Phase of one negotiator. idle -> capturing-media -> negotiating ->
// connected -> (reconnecting | closed).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturingMedia
	PhaseNegotiating
	PhaseConnected
	PhaseReconnecting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturingMedia:
		return "capturing-media"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SignalSender decouples negotiation from the signaling transport.
type SignalSender interface {
	SendSignal(t domain.SignalType, payload any) error
}

// SessionDescription is the SDP half of the signaling payload.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Events are the negotiator's upward notifications. All fields optional.
type Events struct {
	OnPhase func(Phase)
	// OnRemoteTrack fires for every remote track; the first one also moves
	// the phase to connected.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnNegotiationFailed reports a failed ICE phase. Recovery is the
	// caller's job (full close + reconnect); nothing retries here.
	OnNegotiationFailed func(error)
	// OnDataChannel delivers the file-transfer channel once it exists on
	// either side.
	OnDataChannel func(*webrtc.DataChannel)
}

const fileChannelLabel = "file-transfer"

// Negotiator owns exactly one peer connection for one call. Nothing else
// mutates the connection or the local capture tracks.
type Negotiator struct {
	role    Role
	kind    domain.CallKind
	source  media.Source
	signals SignalSender
	events  Events

	pc *webrtc.PeerConnection

	mu          sync.Mutex
	phase       Phase
	localTracks []media.Track
	senders     map[webrtc.RTPCodecType]*webrtc.RTPSender
	paused      map[webrtc.RTPCodecType]webrtc.TrackLocal
	pending     []webrtc.ICECandidateInit
	remoteSet   bool
	remote      []*webrtc.TrackRemote
	closed      bool
}

func NewNegotiator(
	servers []webrtc.ICEServer,
	role Role,
	kind domain.CallKind,
	source media.Source,
	signals SignalSender,
	events Events,
) (*Negotiator, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := source.Populate(mediaEngine); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief NAT/relay hiccup does not terminate
	// the call; the default 5s disconnect window is too short for relayed
	// paths.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	n := &Negotiator{
		role:    role,
		kind:    kind,
		source:  source,
		signals: signals,
		events:  events,
		pc:      pc,
		phase:   PhaseIdle,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		paused:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		// Trickle: every candidate goes out the moment it is discovered,
		// regardless of where the description exchange stands.
		if err := signals.SendSignal(domain.SignalCandidate, cand.ToJSON()); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("send candidate")
		}
	})

	pc.OnICEConnectionStateChange(n.onICEState)

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		n.mu.Lock()
		first := len(n.remote) == 0
		n.remote = append(n.remote, track)
		n.mu.Unlock()
		if first {
			n.setPhase(PhaseConnected)
		}
		if n.events.OnRemoteTrack != nil {
			n.events.OnRemoteTrack(track)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != fileChannelLabel {
			return
		}
		if n.events.OnDataChannel != nil {
			n.events.OnDataChannel(dc)
		}
	})

	return n, nil
}

// onICEState maps ICE transitions onto the phase: a blip surfaces as
// reconnecting and clears again when ICE recovers on its own; only failed is
// terminal.
func (n *Negotiator) onICEState(s webrtc.ICEConnectionState) {
	log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	switch s {
	case webrtc.ICEConnectionStateDisconnected:
		n.setPhase(PhaseReconnecting)
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		n.mu.Lock()
		recovered := n.phase == PhaseReconnecting
		n.mu.Unlock()
		if recovered {
			n.setPhase(PhaseConnected)
		}
	case webrtc.ICEConnectionStateFailed:
		if n.events.OnNegotiationFailed != nil {
			n.events.OnNegotiationFailed(domain.ErrNegotiationFailed)
		}
	}
}

// Start acquires local media, attaches it, and (for the offerer) opens the
// file channel and emits the offer. Media acquisition failure is terminal
// for this side of the call.
func (n *Negotiator) Start() error {
	n.setPhase(PhaseCapturingMedia)

	tracks, err := n.source.UserMedia(n.kind.WantsVideo())
	if err != nil {
		n.setPhase(PhaseClosed)
		return err
	}

	n.mu.Lock()
	n.localTracks = tracks
	n.mu.Unlock()

	for _, t := range tracks {
		sender, err := n.pc.AddTrack(t)
		if err != nil {
			n.Close()
			return fmt.Errorf("%w: add track: %v", domain.ErrNegotiationFailed, err)
		}
		n.mu.Lock()
		n.senders[t.Kind()] = sender
		n.mu.Unlock()
	}

	if n.role == RoleOfferer {
		// The data channel rides the offer; the answerer receives it via
		// OnDataChannel. Default configuration: reliable and ordered,
		// which the file protocol depends on.
		dc, err := n.pc.CreateDataChannel(fileChannelLabel, nil)
		if err != nil {
			n.Close()
			return fmt.Errorf("%w: data channel: %v", domain.ErrNegotiationFailed, err)
		}
		if n.events.OnDataChannel != nil {
			n.events.OnDataChannel(dc)
		}
	}

	n.setPhase(PhaseNegotiating)
	return nil
}

// Offer creates and sends the offer. Offerer only. Safe to call again while
// no answer has arrived (peer joined late): the fresh offer replaces the
// local description instead of stacking a second outstanding one.
func (n *Negotiator) Offer() error {
	if n.role != RoleOfferer {
		return fmt.Errorf("%w: answerer must never offer", domain.ErrNegotiationFailed)
	}
	n.mu.Lock()
	if n.closed || n.remoteSet {
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %v", domain.ErrNegotiationFailed, err)
	}
	return n.signals.SendSignal(domain.SignalOffer, SessionDescription{Type: "offer", SDP: offer.SDP})
}

// HandleOffer applies a remote offer and replies with the answer. Answerer
// only; the offerer receiving an offer is a protocol violation.
func (n *Negotiator) HandleOffer(sdp string) error {
	if n.role != RoleAnswerer {
		return fmt.Errorf("%w: offerer received an offer", domain.ErrNegotiationFailed)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := n.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("%w: set remote offer: %v", domain.ErrNegotiationFailed, err)
	}
	n.flushPending()

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %v", domain.ErrNegotiationFailed, err)
	}
	return n.signals.SendSignal(domain.SignalAnswer, SessionDescription{Type: "answer", SDP: answer.SDP})
}

// HandleAnswer applies the remote answer. Offerer only.
func (n *Negotiator) HandleAnswer(sdp string) error {
	if n.role != RoleOfferer {
		return fmt.Errorf("%w: answerer received an answer", domain.ErrNegotiationFailed)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := n.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %v", domain.ErrNegotiationFailed, err)
	}
	n.flushPending()
	return nil
}

// HandleCandidate applies a remote ICE candidate, queueing it when the
// remote description is not set yet. Candidates legitimately arrive before,
// during, or after the description exchange; queue-and-retry keeps them from
// being lost under any ordering.
func (n *Negotiator) HandleCandidate(ci webrtc.ICECandidateInit) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	if !n.remoteSet {
		n.pending = append(n.pending, ci)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	if err := n.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("%w: add candidate: %v", domain.ErrNegotiationFailed, err)
	}
	return nil
}

// flushPending marks the remote description applied and drains the candidate
// queue in arrival order.
func (n *Negotiator) flushPending() {
	n.mu.Lock()
	n.remoteSet = true
	queued := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, ci := range queued {
		if err := n.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("flush queued candidate")
		}
	}
}

// SetTrackEnabled pauses or resumes the outgoing track of the given kind via
// in-place replacement; no renegotiation happens.
func (n *Negotiator) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	n.mu.Lock()
	sender, ok := n.senders[kind]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	if enabled {
		restore, paused := n.paused[kind]
		delete(n.paused, kind)
		n.mu.Unlock()
		if !paused {
			return nil
		}
		return sender.ReplaceTrack(restore)
	}
	if _, alreadyPaused := n.paused[kind]; alreadyPaused {
		n.mu.Unlock()
		return nil
	}
	n.paused[kind] = sender.Track()
	n.mu.Unlock()
	return sender.ReplaceTrack(nil)
}

// VideoSender exposes the outgoing video sender for the screen-share
// switcher; the switcher replaces the track, never the sender.
func (n *Negotiator) VideoSender() (*webrtc.RTPSender, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sender, ok := n.senders[webrtc.RTPCodecTypeVideo]
	return sender, ok
}

// LocalTracks is the local capture stream currently attached to the
// connection. Empty until Start has acquired media.
func (n *Negotiator) LocalTracks() []media.Track {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]media.Track, len(n.localTracks))
	copy(out, n.localTracks)
	return out
}

// RemoteTracks is the remote stream: populated once per negotiated
// connection, appended to as further tracks of the same negotiation arrive.
func (n *Negotiator) RemoteTracks() []*webrtc.TrackRemote {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(n.remote))
	copy(out, n.remote)
	return out
}

func (n *Negotiator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

func (n *Negotiator) Role() Role { return n.role }

// PendingCandidates reports how many remote candidates are queued awaiting
// the remote description.
func (n *Negotiator) PendingCandidates() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *Negotiator) setPhase(p Phase) {
	n.mu.Lock()
	if n.closed && p != PhaseClosed {
		n.mu.Unlock()
		return
	}
	if n.phase == p {
		n.mu.Unlock()
		return
	}
	n.phase = p
	n.mu.Unlock()
	log.Info().Str("module", "rtc").Str("phase", p.String()).Msg("phase change")
	if n.events.OnPhase != nil {
		n.events.OnPhase(p)
	}
}

// Close stops all local capture tracks and the underlying connection.
// Idempotent: closing an already-closed negotiator does nothing.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	tracks := n.localTracks
	n.localTracks = nil
	n.mu.Unlock()

	for _, t := range tracks {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("close local track")
		}
	}
	if err := n.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close peer connection")
	}
	n.setPhase(PhaseClosed)
}
