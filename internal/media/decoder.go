//////////////////////////////////////////////////////////////////////////////
//
// Media decoder interface for codecs
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "io"

// Decoder is the interface for bytes-in, samples-out audio codecs. Video
// decoders have a richer contract; see VideoDecoder in codec.go.
type Decoder interface {
	io.Closer

	Decode(b []byte) ([]byte, error)
}
