package rtcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/rtcore/internal/clock"
	"github.com/lanikai/rtcore/internal/dtls"
	"github.com/lanikai/rtcore/internal/ice"
	"github.com/lanikai/rtcore/internal/rtp"
	"github.com/lanikai/rtcore/internal/sdp"
)

// Negotiation states, mirroring the JSEP subset we implement.
type negotiationState int

const (
	stateStable negotiationState = iota
	stateHaveLocalOffer
	stateHaveRemoteOffer
)

func (s negotiationState) String() string {
	switch s {
	case stateStable:
		return "Stable"
	case stateHaveLocalOffer:
		return "HaveLocalOffer"
	case stateHaveRemoteOffer:
		return "HaveRemoteOffer"
	default:
		return "Unknown"
	}
}

const (
	sdpUsername = "rtcore"

	videoPayloadType = 96
	audioPayloadType = 0
)

// ConnectionManager drives SDP negotiation and ICE for one prospective
// session: it produces and consumes session descriptions, captures the
// remote DTLS fingerprint for pinning, gathers and checks candidate pairs,
// and finally hands a nominated connection to the session orchestrator.
type ConnectionManager struct {
	mu    sync.Mutex
	state negotiationState

	cert        tls.Certificate
	fingerprint string

	// Learned from the remote description; required before DTLS can run.
	remoteFingerprint string

	localDescription  sdp.Session
	remoteDescription sdp.Session

	// Payload types settled by the offer/answer exchange.
	payloadTypes map[byte]rtp.PayloadType

	agent       *ice.Agent
	controlling bool

	localUfrag    string
	localPassword string

	ids clock.IdGen

	// Local candidates gathered so far, for LocalCandidatesAsSDPLines.
	candidates []ice.Candidate
}

// NewConnectionManager creates a manager identified by the given DTLS
// certificate. The certificate's fingerprint is advertised in every local
// description.
func NewConnectionManager(cert tls.Certificate) *ConnectionManager {
	m := &ConnectionManager{
		cert:        cert,
		fingerprint: dtls.Fingerprint(cert),
	}
	m.newIceCredentials()
	return m
}

func (m *ConnectionManager) newIceCredentials() {
	m.localUfrag = fmt.Sprintf("%08x", m.ids.Uint32())
	m.localPassword = fmt.Sprintf("%08x%08x%08x", m.ids.Uint32(), m.ids.Uint32(), m.ids.Uint32())
}

// Fingerprint returns the local certificate's SDP fingerprint.
func (m *ConnectionManager) Fingerprint() string { return m.fingerprint }

// RemoteFingerprint returns the fingerprint captured from the remote
// description, for pinning at DTLS handshake time.
func (m *ConnectionManager) RemoteFingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteFingerprint
}

// Controlling reports whether this side offered, i.e. runs ICE as the
// controlling agent and nominates the winning pair.
func (m *ConnectionManager) Controlling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlling
}

// PayloadTypes returns the codec set settled by negotiation, keyed by
// payload type number.
func (m *ConnectionManager) PayloadTypes() map[byte]rtp.PayloadType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[byte]rtp.PayloadType, len(m.payloadTypes))
	for k, v := range m.payloadTypes {
		out[k] = v
	}
	return out
}

// Negotiate produces a local offer when the manager is Stable. While a local
// offer is outstanding it returns empty without error; calling it with a
// remote offer pending is a caller bug.
func (m *ConnectionManager) Negotiate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateHaveLocalOffer:
		// Already negotiating; the caller should wait for the answer.
		return "", nil
	case stateHaveRemoteOffer:
		return "", errors.Wrap(ErrNegotiation, "remote offer pending, answer it instead")
	}

	m.controlling = true
	m.localDescription = m.buildDescription("actpass")
	m.state = stateHaveLocalOffer
	m.configureAgent()
	return m.localDescription.String(), nil
}

// ApplyRemoteSDP classifies and applies a remote description. A remote offer
// yields our answer and returns to Stable; a remote answer (while our offer
// is outstanding) returns empty and also settles to Stable.
func (m *ConnectionManager) ApplyRemoteSDP(text string) (string, error) {
	remote, err := sdp.ParseSession(text)
	if err != nil {
		return "", errors.Wrap(ErrSdp, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fingerprint, ok := remoteFingerprint(remote)
	if !ok {
		return "", errors.Wrap(ErrNegotiation, "remote description has no sha-256 fingerprint")
	}

	isAnswer := m.state == stateHaveLocalOffer

	m.remoteDescription = remote
	m.remoteFingerprint = fingerprint

	if isAnswer {
		if err := m.settleCodecs(remote); err != nil {
			return "", err
		}
		m.state = stateStable
		m.configureAgent()
		m.applyRemoteCandidates(remote)
		return "", nil
	}

	// Remote offer: answer it.
	m.controlling = false
	m.state = stateHaveRemoteOffer
	if err := m.settleCodecs(remote); err != nil {
		return "", err
	}
	m.localDescription = m.buildDescription("active")
	m.state = stateStable
	m.configureAgent()
	m.applyRemoteCandidates(remote)
	return m.localDescription.String(), nil
}

// ApplyRemoteTrickleCandidate feeds one trickled remote candidate line into
// the running connectivity checklist.
func (m *ConnectionManager) ApplyRemoteTrickleCandidate(line, mid string) error {
	m.mu.Lock()
	agent := m.agent
	m.mu.Unlock()
	if agent == nil {
		return errors.Wrap(ErrNegotiation, "no negotiation in progress")
	}
	return agent.AddRemoteCandidate(strings.TrimPrefix(line, "a="), mid)
}

// LocalCandidatesAsSDPLines returns the candidates gathered so far as
// `a=candidate:` lines, for signaling paths that don't trickle.
func (m *ConnectionManager) LocalCandidatesAsSDPLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, len(m.candidates))
	for i := range m.candidates {
		lines[i] = "a=" + m.candidates[i].String()
	}
	return lines
}

// Reset abandons any negotiation in progress and prepares for a fresh
// offer/answer exchange with new ICE credentials.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.agent != nil {
		m.agent.Close()
		m.agent = nil
	}
	m.state = stateStable
	m.remoteDescription = sdp.Session{}
	m.localDescription = sdp.Session{}
	m.remoteFingerprint = ""
	m.payloadTypes = nil
	m.candidates = nil
	m.newIceCredentials()
}

// Connect runs ICE to completion: gathers local candidates (reporting each
// to lcand as it is found), performs connectivity checks, and returns the
// connection bound to the nominated pair.
func (m *ConnectionManager) Connect(ctx context.Context, lcand chan<- ice.Candidate) (net.Conn, error) {
	m.mu.Lock()
	agent := m.agent
	m.mu.Unlock()
	if agent == nil {
		return nil, errors.Wrap(ErrNegotiation, "negotiation has not produced ICE credentials")
	}

	observed := make(chan ice.Candidate, 16)
	go func() {
		defer close(lcand)
		for c := range observed {
			m.mu.Lock()
			m.candidates = append(m.candidates, c)
			m.mu.Unlock()
			lcand <- c
		}
	}()

	conn, err := agent.EstablishConnection(ctx, observed)
	if err != nil {
		return nil, errors.Wrap(ErrIceAgent, err.Error())
	}
	return conn, nil
}

// Certificate returns the local DTLS identity for the handshake.
func (m *ConnectionManager) Certificate() tls.Certificate { return m.cert }

// configureAgent (re)builds the ICE agent once both sides' credentials are
// known. Safe to call repeatedly; only the first call after Reset creates
// the agent.
func (m *ConnectionManager) configureAgent() {
	remoteMedia := firstMedia(m.remoteDescription)
	localMedia := firstMedia(m.localDescription)
	if remoteMedia == nil || localMedia == nil {
		return
	}

	role := ice.Controlled
	if m.controlling {
		role = ice.Controlling
	}
	if m.agent == nil {
		m.agent = ice.NewAgent(role)
	}

	mid := localMedia.GetAttr("mid")
	remoteUfrag := remoteMedia.GetAttr("ice-ufrag")
	remotePassword := remoteMedia.GetAttr("ice-pwd")

	username := remoteUfrag + ":" + m.localUfrag
	m.agent.Configure(mid, username, m.localPassword, remotePassword)
}

// applyRemoteCandidates ingests `a=candidate` attributes embedded in a
// remote description, as sent by non-trickling peers.
func (m *ConnectionManager) applyRemoteCandidates(remote sdp.Session) {
	if m.agent == nil {
		return
	}
	for _, media := range remote.Media {
		mid := media.GetAttr("mid")
		for _, attr := range media.Attributes {
			if attr.Key == "candidate" {
				if err := m.agent.AddRemoteCandidate("candidate:"+attr.Value, mid); err != nil {
					log.Warn("bad remote candidate %q: %v", attr.Value, err)
				}
			}
		}
	}
}

// settleCodecs intersects the remote description's rtpmap entries with what
// we implement: H.264 for video, PCMU for audio. The smallest matching
// dynamic payload type wins, following browser convention.
func (m *ConnectionManager) settleCodecs(remote sdp.Session) error {
	m.payloadTypes = make(map[byte]rtp.PayloadType)

	for _, media := range remote.Media {
		best := -1
		var bestPT rtp.PayloadType
		want := ""
		switch media.Type {
		case "video":
			want = "H264/90000"
		case "audio":
			want = "PCMU/8000"
		default:
			continue
		}

		for _, attr := range media.Attributes {
			if attr.Key != "rtpmap" || !strings.Contains(attr.Value, want) {
				continue
			}
			fields := strings.Fields(attr.Value)
			n, err := strconv.Atoi(fields[0])
			if err != nil || n > 127 {
				continue
			}
			pt := parseRtpmap(byte(n), fields[1], media)
			if media.Type == "video" && !packetizationModeSupported(pt.Format) {
				continue
			}
			if best == -1 || n < best {
				best = n
				bestPT = pt
			}
		}

		if best >= 0 {
			m.payloadTypes[byte(best)] = bestPT
		}
	}

	if len(m.payloadTypes) == 0 {
		return errors.Wrap(ErrMediaSpec, "remote description offers neither H264 nor PCMU")
	}
	return nil
}

// packetizationModeSupported reports whether an H.264 fmtp string is
// compatible with the non-interleaved packetization this module implements
// (RFC 6184 mode 1; an absent fmtp defaults acceptably).
func packetizationModeSupported(format string) bool {
	if format == "" {
		return true
	}
	var fmtp sdp.H264FormatParameters
	if err := fmtp.Unmarshal(format); err != nil {
		return false
	}
	return fmtp.PacketizationMode <= 1
}

func parseRtpmap(number byte, desc string, media sdp.Media) rtp.PayloadType {
	pt := rtp.PayloadType{Number: number}
	parts := strings.Split(desc, "/")
	pt.Name = parts[0]
	if len(parts) > 1 {
		pt.ClockRate, _ = strconv.Atoi(parts[1])
	}
	for _, attr := range media.Attributes {
		if attr.Key == "fmtp" && strings.HasPrefix(attr.Value, strconv.Itoa(int(number))+" ") {
			pt.Format = strings.TrimPrefix(attr.Value, strconv.Itoa(int(number))+" ")
		}
		if attr.Key == "rtcp-fb" && strings.HasPrefix(attr.Value, strconv.Itoa(int(number))+" ") {
			pt.FeedbackOptions = append(pt.FeedbackOptions, strings.TrimPrefix(attr.Value, strconv.Itoa(int(number))+" "))
		}
	}
	return pt
}

// buildDescription renders the local session description. setup is
// "actpass" for offers, "active" or "passive" for answers.
func (m *ConnectionManager) buildDescription(setup string) sdp.Session {
	s := sdp.Session{
		Version: 0,
		Origin: sdp.Origin{
			Username:       sdpUsername,
			SessionId:      strconv.FormatUint(uint64(m.ids.Uint32()), 10),
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			Address:        "127.0.0.1",
		},
		Name: "-",
		Time: []sdp.Time{{}},
		Attributes: []sdp.Attribute{
			{Key: "group", Value: "BUNDLE video audio"},
		},
	}

	s.Media = append(s.Media, m.buildMedia("video", setup))
	s.Media = append(s.Media, m.buildMedia("audio", setup))
	return s
}

func (m *ConnectionManager) buildMedia(kind, setup string) sdp.Media {
	media := sdp.Media{
		Type:  kind,
		Port:  9,
		Proto: "UDP/TLS/RTP/SAVPF",
		Connection: &sdp.Connection{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     "0.0.0.0",
		},
	}

	attr := func(k, v string) {
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: k, Value: v})
	}

	attr("mid", kind)
	attr("ice-ufrag", m.localUfrag)
	attr("ice-pwd", m.localPassword)
	attr("fingerprint", "sha-256 "+m.fingerprint)
	attr("setup", setup)
	attr("rtcp-mux", "")

	switch kind {
	case "video":
		pt := m.negotiatedVideoPT()
		media.Format = []string{strconv.Itoa(int(pt))}
		attr("rtpmap", fmt.Sprintf("%d H264/90000", pt))
		attr("fmtp", fmt.Sprintf("%d level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", pt))
		attr("rtcp-fb", fmt.Sprintf("%d nack pli", pt))
		attr("sendrecv", "")
	case "audio":
		media.Format = []string{strconv.Itoa(audioPayloadType)}
		attr("rtpmap", fmt.Sprintf("%d PCMU/8000", audioPayloadType))
		attr("sendrecv", "")
	}
	return media
}

// negotiatedVideoPT returns the settled H.264 payload type, or our default
// when we're the one proposing.
func (m *ConnectionManager) negotiatedVideoPT() byte {
	for n, pt := range m.payloadTypes {
		if pt.Name == "H264" {
			return n
		}
	}
	return videoPayloadType
}

// remoteFingerprint pulls the sha-256 fingerprint from a session, checking
// media-level attributes first, then session level.
func remoteFingerprint(s sdp.Session) (string, bool) {
	parse := func(v string) (string, bool) {
		fields := strings.Fields(v)
		if len(fields) == 2 && strings.EqualFold(fields[0], "sha-256") {
			return fields[1], true
		}
		return "", false
	}
	for i := range s.Media {
		if v := s.Media[i].GetAttr("fingerprint"); v != "" {
			return parse(v)
		}
	}
	if v := s.GetAttr("fingerprint"); v != "" {
		return parse(v)
	}
	return "", false
}

func firstMedia(s sdp.Session) *sdp.Media {
	if len(s.Media) == 0 {
		return nil
	}
	return &s.Media[0]
}
