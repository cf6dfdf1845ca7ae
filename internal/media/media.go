package media

// Source is the generic capability interface implemented by every media
// source (capture device, file replay, test generator). It deliberately says
// nothing about how samples are produced or transported; callers that need a
// specific shape (audio vs. H.264 NALUs) type-assert to the narrower
// interfaces below.
type Source interface {
	// PayloadType returns the RTP media type string, e.g. "H264/90000" or
	// "PCMU/8000".
	PayloadType() string

	// Close releases any resources held by the source.
	Close() error
}
