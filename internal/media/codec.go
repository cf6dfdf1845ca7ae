package media

// VideoEncoderConfig carries the runtime-adjustable encoder parameters.
type VideoEncoderConfig struct {
	FPS              uint32
	Bitrate          uint32
	KeyframeInterval uint32
}

// VideoEncoder is the capability interface for an opaque H.264 encoder
// module. Implementations wrap hardware or software engines; the core never
// looks inside.
type VideoEncoder interface {
	// Encode consumes one raw frame and returns the encoded access unit as
	// Annex-B bytes, or nil if the engine buffered the frame.
	Encode(frame []byte, forceKeyframe bool) ([]byte, error)

	// RequestKeyframe asks the engine to make the next output an IDR.
	RequestKeyframe()

	// SetConfig applies new encoding parameters, taking effect on the next
	// frame boundary.
	SetConfig(cfg VideoEncoderConfig) error

	Close() error
}

// VideoDecoder is the capability interface for an opaque H.264 decoder
// module.
type VideoDecoder interface {
	// Decode consumes one Annex-B access unit and returns the raw frame, or
	// nil if the engine needs more input before producing output.
	Decode(annexb []byte) ([]byte, error)

	Close() error
}

// RawVideoSource produces raw (unencoded) video frames, e.g. from a camera
// capture backend. ReadFrame blocks until the next frame is available.
type RawVideoSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// RawAudioSource produces raw PCM audio, 16-bit little-endian mono.
// ReadFrame blocks until one full frame (160 samples at 8 kHz, i.e. 20 ms)
// is captured.
type RawAudioSource interface {
	ReadFrame() ([]byte, error)
	Close() error
}
