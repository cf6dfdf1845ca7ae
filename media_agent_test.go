package rtcore

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtcore/internal/media"
)

// fakeEncoder records every call so tests can assert on ordering.
type fakeEncoder struct {
	mu        sync.Mutex
	forced    []bool
	configs   []media.VideoEncoderConfig
	keyframes int
}

func (e *fakeEncoder) Encode(frame []byte, force bool) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forced = append(e.forced, force)
	return append([]byte{0, 0, 0, 1, 0x65}, frame...), nil
}

func (e *fakeEncoder) RequestKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyframes++
}

func (e *fakeEncoder) SetConfig(cfg media.VideoEncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	return nil
}

func (e *fakeEncoder) Close() error { return nil }

// fakeCamera produces a fixed number of frames, then blocks until stopped.
type fakeCamera struct {
	frames int
	done   chan struct{}
}

func (c *fakeCamera) ReadFrame() ([]byte, error) {
	if c.frames == 0 {
		<-c.done
		return nil, io.EOF
	}
	c.frames--
	time.Sleep(time.Millisecond)
	return []byte{0xaa}, nil
}

func (c *fakeCamera) Close() error { return nil }

func testMediaConfig() MediaConfig {
	return MediaConfig{
		FPS:              30,
		MaxBitrate:       1_500_000,
		MinBitrate:       500_000,
		KeyframeInterval: 90,
	}
}

func TestFirstEncodedFrameForcesKeyframe(t *testing.T) {
	enc := &fakeEncoder{}
	camera := &fakeCamera{frames: 3, done: make(chan struct{})}

	agent := NewMediaAgent(testMediaConfig(), MediaAgentOptions{
		Camera:  camera,
		Encoder: enc,
	})
	agent.Start()
	defer func() {
		close(camera.done)
		agent.Stop()
	}()

	var frames []EncodedVideoFrame
	timeout := time.After(5 * time.Second)
	for len(frames) < 3 {
		select {
		case f := <-agent.EncodedFrames():
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("encoder produced too few frames")
		}
	}

	enc.mu.Lock()
	defer enc.mu.Unlock()
	require.GreaterOrEqual(t, len(enc.forced), 3)
	assert.True(t, enc.forced[0], "first frame must be a keyframe")
	assert.False(t, enc.forced[1])
	assert.False(t, enc.forced[2])
	assert.Equal(t, "H264", frames[0].Codec)
}

func TestBitrateUpdatesReachEncoderInOrder(t *testing.T) {
	enc := &fakeEncoder{}
	camera := &fakeCamera{done: make(chan struct{})}
	agent := NewMediaAgent(testMediaConfig(), MediaAgentOptions{
		Camera:  camera,
		Encoder: enc,
	})
	agent.Start()

	agent.UpdateBitrate(1_000_000)
	agent.UpdateBitrate(850_000)
	agent.UpdateBitrate(722_500)

	deadline := time.Now().Add(5 * time.Second)
	for {
		enc.mu.Lock()
		n := len(enc.configs)
		enc.mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(camera.done)
	agent.Stop()

	enc.mu.Lock()
	defer enc.mu.Unlock()
	require.Len(t, enc.configs, 3)
	assert.EqualValues(t, 1_000_000, enc.configs[0].Bitrate)
	assert.EqualValues(t, 850_000, enc.configs[1].Bitrate)
	assert.EqualValues(t, 722_500, enc.configs[2].Bitrate)
	for _, cfg := range enc.configs {
		assert.EqualValues(t, 30, cfg.FPS)
		assert.EqualValues(t, 90, cfg.KeyframeInterval)
	}
}

func TestForceKeyframeReachesEncoder(t *testing.T) {
	enc := &fakeEncoder{}
	camera := &fakeCamera{done: make(chan struct{})}
	agent := NewMediaAgent(testMediaConfig(), MediaAgentOptions{
		Camera:  camera,
		Encoder: enc,
	})
	agent.Start()

	agent.ForceKeyframe()

	deadline := time.Now().Add(5 * time.Second)
	for {
		enc.mu.Lock()
		n := enc.keyframes
		enc.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(camera.done)
	agent.Stop()

	enc.mu.Lock()
	defer enc.mu.Unlock()
	assert.Equal(t, 1, enc.keyframes)
}

func TestAudioCaptureProducesMuLawFrames(t *testing.T) {
	agent := NewMediaAgent(testMediaConfig(), MediaAgentOptions{
		AudioSource: media.NewSilenceSource(),
	})
	agent.Start()
	defer agent.Stop()

	select {
	case frame := <-agent.AudioFrames():
		// 160 samples of 16-bit PCM compand to 160 μ-law bytes.
		assert.Len(t, frame.Payload, 160)
	case <-time.After(5 * time.Second):
		t.Fatal("no audio frame captured")
	}
}
