package media

import (
	"bytes"
	"io"
	"os"
)

const (
	h264ReadChunk   = 16 * 1024
	h264MaxNALUSize = 1024 * 1024
)

// annexBReader extracts NAL units from an H.264 Annex-B byte stream, e.g.
// a raw capture file. Both 3- and 4-byte start codes are accepted; the
// returned NALUs carry no start code.
type annexBReader struct {
	in io.ReadCloser

	// Unconsumed stream bytes; always begins at a start code boundary once
	// the leading junk (if any) has been discarded.
	pending []byte
	eof     bool
}

// NewH264Reader wraps an Annex-B stream as an H264Source.
func NewH264Reader(in io.ReadCloser) H264Source {
	return &annexBReader{in: in}
}

func (r *annexBReader) PayloadType() string { return "H264/90000" }

func (r *annexBReader) Close() error { return r.in.Close() }

// ReadNALU returns the next complete NAL unit, or io.EOF once the stream
// is exhausted.
func (r *annexBReader) ReadNALU() ([]byte, error) {
	for {
		if nalu, ok := r.takeNALU(); ok {
			return nalu, nil
		}
		if r.eof {
			return nil, io.EOF
		}
		if len(r.pending) > h264MaxNALUSize {
			return nil, io.ErrUnexpectedEOF
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

func (r *annexBReader) fill() error {
	chunk := make([]byte, h264ReadChunk)
	n, err := r.in.Read(chunk)
	r.pending = append(r.pending, chunk[:n]...)
	switch err {
	case nil:
		return nil
	case io.EOF:
		r.eof = true
		return nil
	default:
		return err
	}
}

// takeNALU slices one complete NALU off the front of pending. A NALU is
// complete when the next start code has arrived, or at end of stream.
func (r *annexBReader) takeNALU() ([]byte, bool) {
	start := findStartCode(r.pending, 0)
	if start < 0 {
		if r.eof {
			r.pending = nil
		}
		return nil, false
	}
	body := start + 3

	next := findStartCode(r.pending, body)
	switch {
	case next >= 0:
		// A zero immediately before the next code is its 4-byte form, not
		// part of this NALU.
		end := next
		if end > body && r.pending[end-1] == 0 {
			end--
		}
		nalu := append([]byte(nil), r.pending[body:end]...)
		r.pending = r.pending[next:]
		return nalu, len(nalu) > 0
	case r.eof:
		nalu := append([]byte(nil), r.pending[body:]...)
		r.pending = nil
		return nalu, len(nalu) > 0
	default:
		return nil, false
	}
}

// findStartCode locates the next 00 00 01 at or after offset.
func findStartCode(buf []byte, offset int) int {
	if offset > len(buf) {
		return -1
	}
	i := bytes.Index(buf[offset:], []byte{0, 0, 1})
	if i < 0 {
		return -1
	}
	return offset + i
}

func openH264(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewH264Reader(f), nil
}

func init() {
	RegisterSourceType("h264", openH264)
}
