package ice

import "github.com/lanikai/rtcore/internal/logging"

var log = logging.New("ice")
