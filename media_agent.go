package rtcore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanikai/rtcore/internal/media"
)

func defaultNowMS() int64 { return time.Now().UnixMilli() }

// EncodedVideoFrame is one encoded access unit leaving the encoder worker.
type EncodedVideoFrame struct {
	AnnexB      []byte
	TimestampMS int64
	Codec       string
}

// EncodedAudioFrame is one 20 ms μ-law frame leaving the audio capture
// worker.
type EncodedAudioFrame struct {
	Payload     []byte
	TimestampMS int64
}

// Channel depths for the media pipeline. Frames are dropped at the input
// side when a downstream worker is wedged; the capture loops never block.
const (
	rawQueueDepth     = 4
	encodedQueueDepth = 8
	commandQueueDepth = 16
)

// samples per 20 ms at 8 kHz mono
const audioFrameSamples = 160

type agentCommand interface{ command() }

type updateBitrateCmd struct{ bps uint32 }
type forceKeyframeCmd struct{}

func (updateBitrateCmd) command() {}
func (forceKeyframeCmd) command() {}

// MediaAgent owns the capture/encode/decode workers and the opaque codec
// modules. It feeds encoded frames out over bounded channels and takes
// bitrate updates and keyframe requests in; it knows nothing about RTP.
type MediaAgent struct {
	cfg MediaConfig

	camera  media.RawVideoSource
	encoder media.VideoEncoder
	decoder media.VideoDecoder

	audioSource media.RawAudioSource
	audioSink   media.AudioSink

	// G.711 μ-law codec behind the generic Encoder/Decoder interfaces.
	audioEncoder media.Encoder
	audioDecoder media.Decoder

	rawFrames   chan []byte
	encodedOut  chan EncodedVideoFrame
	decodeIn    chan []byte
	decodedOut  chan []byte
	audioOut    chan EncodedAudioFrame
	audioIn     chan []byte
	commands    chan agentCommand
	framesSent  atomic.Uint64
	droppedRaw  atomic.Uint64
	lastBitrate uint32
	nowMS       func() int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MediaAgentOptions names the capture backends and codec modules the agent
// drives. Any nil field disables the corresponding worker.
type MediaAgentOptions struct {
	Camera      media.RawVideoSource
	Encoder     media.VideoEncoder
	Decoder     media.VideoDecoder
	AudioSource media.RawAudioSource
	AudioSink   media.AudioSink
	NowMS       func() int64
}

func NewMediaAgent(cfg MediaConfig, opts MediaAgentOptions) *MediaAgent {
	a := &MediaAgent{
		cfg:          cfg,
		camera:       opts.Camera,
		encoder:      opts.Encoder,
		decoder:      opts.Decoder,
		audioSource:  opts.AudioSource,
		audioSink:    opts.AudioSink,
		audioEncoder: media.NewPCMUEncoder(),
		audioDecoder: media.NewPCMUDecoder(),
		rawFrames:    make(chan []byte, rawQueueDepth),
		encodedOut:   make(chan EncodedVideoFrame, encodedQueueDepth),
		decodeIn:     make(chan []byte, encodedQueueDepth),
		decodedOut:   make(chan []byte, rawQueueDepth),
		audioOut:     make(chan EncodedAudioFrame, encodedQueueDepth),
		audioIn:      make(chan []byte, encodedQueueDepth),
		commands:     make(chan agentCommand, commandQueueDepth),
		nowMS:        opts.NowMS,
		stop:         make(chan struct{}),
	}
	if a.nowMS == nil {
		a.nowMS = defaultNowMS
	}
	return a
}

// Start launches the workers for every configured backend.
func (a *MediaAgent) Start() {
	if a.camera != nil {
		a.wg.Add(1)
		go a.cameraWorker()
	}
	if a.encoder != nil {
		a.wg.Add(1)
		go a.encoderWorker()
	}
	if a.decoder != nil {
		a.wg.Add(1)
		go a.decoderWorker()
	}
	if a.audioSource != nil {
		a.wg.Add(1)
		go a.audioCaptureWorker()
	}
	if a.audioSink != nil {
		a.wg.Add(1)
		go a.audioPlaybackWorker()
	}
}

// Stop halts every worker and closes the codec modules. Teardown order
// matters to the rest of the core: the agent goes first, before the
// transport and session that borrow its channels.
func (a *MediaAgent) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
	if a.encoder != nil {
		a.encoder.Close()
	}
	if a.decoder != nil {
		a.decoder.Close()
	}
}

// EncodedFrames is the stream of encoded video access units.
func (a *MediaAgent) EncodedFrames() <-chan EncodedVideoFrame { return a.encodedOut }

// DecodedFrames is the stream of raw frames out of the decoder, ready to
// render.
func (a *MediaAgent) DecodedFrames() <-chan []byte { return a.decodedOut }

// AudioFrames is the stream of outbound 20 ms μ-law frames.
func (a *MediaAgent) AudioFrames() <-chan EncodedAudioFrame { return a.audioOut }

// SubmitVideoFrame feeds a received Annex-B access unit to the decoder.
// Frames are dropped when the decoder is wedged rather than blocking the
// caller (the packet dispatch path).
func (a *MediaAgent) SubmitVideoFrame(annexb []byte) {
	select {
	case a.decodeIn <- annexb:
	default:
		log.Debug("decoder backlogged, dropping frame")
	}
}

// SubmitAudioFrame feeds a received μ-law frame to playback.
func (a *MediaAgent) SubmitAudioFrame(payload []byte) {
	select {
	case a.audioIn <- payload:
	default:
	}
}

// UpdateBitrate applies a congestion-controller decision to the encoder.
// Updates are serialized through the command queue, so the encoder observes
// them in order.
func (a *MediaAgent) UpdateBitrate(bps uint32) {
	select {
	case a.commands <- updateBitrateCmd{bps}:
	default:
		log.Warn("command queue full, dropping bitrate update")
	}
}

// ForceKeyframe asks the encoder to produce an IDR on the next frame, e.g.
// in response to a PLI from the remote peer.
func (a *MediaAgent) ForceKeyframe() {
	select {
	case a.commands <- forceKeyframeCmd{}:
	default:
	}
}

func (a *MediaAgent) cameraWorker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		frame, err := a.camera.ReadFrame()
		if err != nil {
			log.Error("camera read: %v", err)
			return
		}
		select {
		case a.rawFrames <- frame:
		default:
			// Encoder is behind; drop the newest frame rather than stall
			// capture.
			a.droppedRaw.Add(1)
		}
	}
}

func (a *MediaAgent) encoderWorker() {
	defer a.wg.Done()

	// The first frame of a session must be decodable on its own.
	forceKey := true

	for {
		select {
		case <-a.stop:
			return

		case cmd := <-a.commands:
			switch c := cmd.(type) {
			case updateBitrateCmd:
				forceKey = a.applyBitrate(c.bps) || forceKey
			case forceKeyframeCmd:
				a.encoder.RequestKeyframe()
			}

		case frame := <-a.rawFrames:
			annexb, err := a.encoder.Encode(frame, forceKey)
			if err != nil {
				log.Error("encode: %v", err)
				continue
			}
			forceKey = false
			if annexb == nil {
				continue
			}
			a.framesSent.Add(1)
			out := EncodedVideoFrame{
				AnnexB:      annexb,
				TimestampMS: a.nowMS(),
				Codec:       "H264",
			}
			select {
			case a.encodedOut <- out:
			case <-a.stop:
				return
			}
		}
	}
}

// applyBitrate pushes a new target to the encoder, together with the frame
// rate and keyframe interval from config. Returns true when the change is large
// enough to warrant a fresh IDR.
func (a *MediaAgent) applyBitrate(bps uint32) bool {
	prev := a.lastBitrate
	a.lastBitrate = bps
	err := a.encoder.SetConfig(media.VideoEncoderConfig{
		FPS:              a.cfg.FPS,
		Bitrate:          bps,
		KeyframeInterval: a.cfg.KeyframeInterval,
	})
	if err != nil {
		log.Warn("encoder config: %v", err)
		return false
	}
	// A halving or doubling invalidates the rate-control state enough that
	// reference frames may overshoot; restart from an IDR.
	return prev != 0 && (bps < prev/2 || bps > prev*2)
}

func (a *MediaAgent) decoderWorker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		case annexb := <-a.decodeIn:
			frame, err := a.decoder.Decode(annexb)
			if err != nil {
				log.Debug("decode: %v", err)
				continue
			}
			if frame == nil {
				continue
			}
			select {
			case a.decodedOut <- frame:
			default:
			}
		}
	}
}

func (a *MediaAgent) audioCaptureWorker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		pcm, err := a.audioSource.ReadFrame()
		if err != nil {
			log.Error("audio capture: %v", err)
			return
		}
		if len(pcm) != 2*audioFrameSamples {
			log.Debug("unexpected audio frame size %d", len(pcm))
			continue
		}
		mulaw, err := a.audioEncoder.Encode(pcm)
		if err != nil {
			continue
		}
		select {
		case a.audioOut <- EncodedAudioFrame{Payload: mulaw, TimestampMS: a.nowMS()}:
		default:
		}
	}
}

func (a *MediaAgent) audioPlaybackWorker() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stop:
			return
		case mulaw := <-a.audioIn:
			pcm, err := a.audioDecoder.Decode(mulaw)
			if err != nil {
				continue
			}
			if _, err := a.audioSink.Write(pcm); err != nil {
				log.Error("audio playback: %v", err)
				return
			}
		}
	}
}
