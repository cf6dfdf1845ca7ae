//////////////////////////////////////////////////////////////////////////////
//
// Media sink interfaces and universal implementations
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"io"
	"os"
)

// MediaSink is the interface for media sinks (e.g. speaker, display)
type MediaSink interface {
	io.Closer
	io.Writer
}

// AudioSink extends MediaSink for audio playback devices.
type AudioSink interface {
	MediaSink

	// Configure sets the sink's sample rate, channel count, and sample format.
	Configure(rate, channels, format int) error
}

// VideoSink extends MediaSink for video rendering/recording.
type VideoSink interface {
	MediaSink
}

// FileMediaSink writes raw media bytes to a file. Useful for capturing a
// session to disk for offline inspection, or as a sink in tests.
type FileMediaSink struct {
	file *os.File
}

// NewFileMediaSink creates (or truncates) filename and returns a sink that
// writes to it.
func NewFileMediaSink(filename string) (*FileMediaSink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &FileMediaSink{file: f}, nil
}

func (s *FileMediaSink) Close() error {
	return s.file.Close()
}

// Configure is a no-op; a plain file sink has no playback parameters.
func (s *FileMediaSink) Configure(rate, channels, format int) error {
	return nil
}

func (s *FileMediaSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}
