package media

// VideoSource is the interface that extends the basic Source interface for
// video sources (e.g. camera, file, test pattern generator).
type VideoSource interface {
	Source

	Width() int
	Height() int
}

// H264Source is a Source that produces raw H.264 NAL units, delimited by
// Annex B start codes. The video pipeline packetizes each NALU independently
// of how it was produced (capture device, decoder passthrough, file replay).
type H264Source interface {
	Source

	// ReadNALU returns the next NAL unit, without its Annex B start code.
	ReadNALU() (nalu []byte, err error)
}
