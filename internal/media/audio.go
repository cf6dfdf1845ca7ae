package media

import "time"

// AudioSource extends Source with the stream properties a sender needs to
// frame audio for RTP.
type AudioSource interface {
	Source

	Codec() string

	SampleRate() int
	BytesPerSample() int
}

// SilenceSource is a RawAudioSource producing 20 ms frames of silence at
// 8 kHz mono, paced in real time. It stands in for a microphone in demos
// and tests.
type SilenceSource struct {
	last time.Time
}

func NewSilenceSource() *SilenceSource {
	return &SilenceSource{}
}

func (s *SilenceSource) ReadFrame() ([]byte, error) {
	const frameInterval = 20 * time.Millisecond
	if !s.last.IsZero() {
		if d := frameInterval - time.Since(s.last); d > 0 {
			time.Sleep(d)
		}
	}
	s.last = time.Now()

	// 160 samples of 16-bit PCM.
	return make([]byte, 320), nil
}

func (s *SilenceSource) Close() error { return nil }
