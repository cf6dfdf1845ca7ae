package rtp

import "github.com/lanikai/rtcore/internal/logging"

var log = logging.New("rtp")
