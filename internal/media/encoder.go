//////////////////////////////////////////////////////////////////////////////
//
// Media codecs
//
// * PCM μ-law (ITU-T G.711)
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "io"

// Encoder is the interface for sample-in, bytes-out audio codecs
// (currently PCM μ-law). Video encoders have a richer contract; see
// VideoEncoder in codec.go.
type Encoder interface {
	io.Closer

	Encode([]byte) ([]byte, error)
}
