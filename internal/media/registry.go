package media

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/lanikai/rtcore/internal/logging"
)

var log = logging.New("media")

// OpenFunc opens one kind of media source given the path portion of a
// source spec.
type OpenFunc func(path string) (Source, error)

// The source registry maps spec tags to their backends. Backends register
// themselves from init so that a build carries exactly the sources it
// compiled in (capture backends are platform-gated).
var registry = map[string]OpenFunc{}

func RegisterSourceType(tag string, open OpenFunc) {
	registry[tag] = open
}

// OpenSource resolves a "tag:path" source spec against the registry, e.g.
// "h264:clip.264". A spec with no colon is all tag and no path.
func OpenSource(spec string) (Source, error) {
	tag, path, _ := strings.Cut(spec, ":")
	open, ok := registry[tag]
	if !ok {
		return nil, errors.Wrapf(errNotFound, "source type %q not registered", tag)
	}
	log.Debug("opening %q source: %s", tag, path)
	return open(path)
}
