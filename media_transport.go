package rtcore

import (
	"strings"
	"sync"

	"github.com/lanikai/rtcore/internal/clock"
	"github.com/lanikai/rtcore/internal/rtp"
)

// MediaTransport wires the MediaAgent to the RTP session: encoded frames
// flow out through the packetizer onto send streams, inbound packets flow
// through per-SSRC depacketizers back into the agent, and receiver-report
// metrics drive the congestion controller. Ownership is one-way: the
// transport borrows the session and agent, and is torn down after the agent
// and before the session.
type MediaTransport struct {
	session *Session
	agent   *MediaAgent
	cfg     Config

	packetizer *rtp.Packetizer

	videoTrack *rtp.SendStream
	audioTrack *rtp.SendStream

	// RTP timestamps advance by clockRate/fps per video frame and by the
	// sample count per audio frame.
	videoTS uint32
	audioTS uint32

	controller *CongestionController

	// Depacketizers keyed by remote SSRC. Touched only on the session's
	// data reader goroutine.
	depacketizers map[uint32]*rtp.Depacketizer

	ids clock.IdGen

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

const videoMTU = 1200

func NewMediaTransport(session *Session, agent *MediaAgent, cfg Config) *MediaTransport {
	return &MediaTransport{
		session:       session,
		agent:         agent,
		cfg:           cfg,
		packetizer:    rtp.NewPacketizer(videoMTU),
		depacketizers: make(map[uint32]*rtp.Depacketizer),
		stop:          make(chan struct{}),
	}
}

// Start registers the outbound tracks and begins pumping media. The session
// must already be established.
func (t *MediaTransport) Start() error {
	var err error
	if t.videoTrack, err = t.session.RegisterOutboundTrack("H264"); err != nil {
		return err
	}
	if t.audioTrack, err = t.session.RegisterOutboundTrack("PCMU"); err != nil {
		// Audio is optional: a video-only peer is still a valid session.
		log.Info("no audio track: %v", err)
	}
	t.videoTS = t.ids.Uint32()
	t.audioTS = t.ids.Uint32()

	t.session.RTP().SetPacketHandler(t.onPacket)
	t.session.RTP().SetPLIHandler(func(uint32) { t.agent.ForceKeyframe() })

	t.controller = NewCongestionController(
		(t.cfg.Media.MinBitrate+t.cfg.Media.MaxBitrate)/2,
		t.cfg.Media.MinBitrate,
		t.cfg.Media.MaxBitrate,
		func(bps uint32) {
			t.agent.UpdateBitrate(bps)
			t.session.emit(BitrateEvent{BitsPerSecond: bps})
		},
	)

	t.wg.Add(2)
	go t.sendLoop()
	go t.metricsLoop()
	return nil
}

// Stop halts the pumps. Idempotent.
func (t *MediaTransport) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

// sendLoop drains the agent's encoded outputs onto the RTP tracks.
func (t *MediaTransport) sendLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return

		case frame := <-t.agent.EncodedFrames():
			chunks := t.packetizer.Packetize(frame.AnnexB)
			if len(chunks) == 0 {
				continue
			}
			if err := t.session.SendFrameChunks(t.videoTrack, chunks, t.videoTS); err != nil {
				log.Debug("video send: %v", err)
			}
			t.videoTS += t.cfg.TimestampStep()

		case frame := <-t.agent.AudioFrames():
			if t.audioTrack == nil {
				continue
			}
			chunk := []rtp.Chunk{{Bytes: frame.Payload, Marker: true}}
			if err := t.session.SendFrameChunks(t.audioTrack, chunk, t.audioTS); err != nil {
				log.Debug("audio send: %v", err)
			}
			t.audioTS += audioFrameSamples
		}
	}
}

// metricsLoop feeds receiver-report digests to the congestion controller
// and relays them on the event stream.
func (t *MediaTransport) metricsLoop() {
	defer t.wg.Done()
	metrics := t.session.RTP().Metrics()
	for {
		select {
		case <-t.stop:
			return
		case m := <-metrics:
			t.controller.Observe(m)
			t.session.emit(MetricsEvent{
				RTT:            m.RTT,
				FractionLost:   m.FractionLost,
				CumulativeLost: m.CumulativeLost,
				HighestSeq:     m.HighestSeq,
			})
		}
	}
}

// onPacket dispatches one decrypted inbound RTP packet by codec. Runs on
// the session's data reader goroutine.
func (t *MediaTransport) onPacket(p rtp.InboundPacket) {
	switch {
	case strings.EqualFold(p.PayloadType.Name, "H264"):
		d := t.depacketizers[p.SSRC]
		if d == nil {
			d = new(rtp.Depacketizer)
			t.depacketizers[p.SSRC] = d
		}
		if frame, ok := d.Push(p.Sequence, p.Timestamp, p.Marker, p.Payload); ok {
			t.agent.SubmitVideoFrame(frame)
		}

	case strings.EqualFold(p.PayloadType.Name, "PCMU"):
		payload := append([]byte(nil), p.Payload...)
		t.agent.SubmitAudioFrame(payload)
	}
}
