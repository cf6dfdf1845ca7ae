// Package sdp parses and renders the Session Description Protocol subset
// this engine negotiates with: the required v/o/s/t lines, connection data,
// attributes, and per-media sections (RFC 4566, used in the offer/answer
// shape of RFC 3264). Lines the model doesn't cover are preserved verbatim
// so a description survives a parse/encode round trip.
package sdp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session is one parsed description.
type Session struct {
	Version    int
	Origin     Origin
	Name       string
	Info       string      // optional
	Uri        string      // optional
	Email      string      // optional
	Phone      string      // optional
	Connection *Connection // optional
	Time       []Time
	Attributes []Attribute

	// Session-level lines this parser doesn't model, kept verbatim.
	Unknown []string

	Media []Media

	// Lazily built by GetAttr.
	attributeCache map[string]string
}

// Origin is the o= line.
type Origin struct {
	Username       string
	SessionId      string
	SessionVersion uint64
	NetworkType    string
	AddressType    string
	Address        string
}

// Connection is a c= line.
type Connection struct {
	NetworkType string
	AddressType string
	Address     string
}

// Time is a t= line; nil bounds mean "unbounded" (rendered as 0).
type Time struct {
	Start *time.Time
	Stop  *time.Time
}

// Attribute is an a= line split on the first colon; flag attributes have
// an empty Value.
type Attribute struct {
	Key   string
	Value string
}

// Media is one m= section together with the lines that follow it.
type Media struct {
	Type   string
	Port   int
	Proto  string
	Format []string

	Info       string      // optional
	Connection *Connection // optional
	Attributes []Attribute

	// Unmodeled media-level lines, preserved verbatim.
	Unknown []string

	attributeCache map[string]string
}

// GetAttr returns the value of the first attribute with the given name, or
// "" when absent.
func (s *Session) GetAttr(key string) string {
	if s.attributeCache == nil {
		s.attributeCache = cacheAttributes(s.Attributes)
	}
	return s.attributeCache[key]
}

func (m *Media) GetAttr(key string) string {
	if m.attributeCache == nil {
		m.attributeCache = cacheAttributes(m.Attributes)
	}
	return m.attributeCache[key]
}

func cacheAttributes(attrs []Attribute) map[string]string {
	cache := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if _, seen := cache[a.Key]; !seen {
			cache[a.Key] = a.Value
		}
	}
	return cache
}

// ParseSession decodes a description. Parsing is strict about the lines it
// models and lenient about everything else: an unrecognized type letter is
// preserved, not rejected.
func ParseSession(text string) (Session, error) {
	var s Session
	p := &parser{lines: splitLines(text)}

	for !p.done() {
		typ, value, err := p.next()
		if err != nil {
			return s, err
		}

		switch typ {
		case 'v':
			if s.Version, err = strconv.Atoi(value); err != nil {
				err = parseError("version", value, err)
			}
		case 'o':
			s.Origin, err = parseOrigin(value)
		case 's':
			s.Name = value
		case 'i':
			s.Info = value
		case 'u':
			s.Uri = value
		case 'e':
			s.Email = value
		case 'p':
			s.Phone = value
		case 'c':
			var c Connection
			if c, err = parseConnection(value); err == nil {
				s.Connection = &c
			}
		case 't':
			var t Time
			if t, err = parseTimeRange(value); err == nil {
				s.Time = append(s.Time, t)
			}
		case 'a':
			s.Attributes = append(s.Attributes, parseAttribute(value))
		case 'm':
			var m Media
			if m, err = parseMedia(p, value); err == nil {
				s.Media = append(s.Media, m)
			}
		default:
			s.Unknown = append(s.Unknown, p.current())
		}

		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// parseMedia consumes the section that follows an m= line, stopping before
// the next m= line (which belongs to the next section).
func parseMedia(p *parser, mline string) (Media, error) {
	fields := strings.Fields(mline)
	if len(fields) < 3 {
		return Media{}, parseError("media", mline, nil)
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return Media{}, parseError("media", mline, err)
	}
	m := Media{
		Type:   fields[0],
		Port:   port,
		Proto:  fields[2],
		Format: fields[3:],
	}

	for !p.done() {
		if p.peekType() == 'm' {
			return m, nil
		}
		typ, value, err := p.next()
		if err != nil {
			return m, err
		}

		switch typ {
		case 'i':
			m.Info = value
		case 'c':
			var c Connection
			if c, err = parseConnection(value); err != nil {
				return m, err
			}
			m.Connection = &c
		case 'a':
			m.Attributes = append(m.Attributes, parseAttribute(value))
		default:
			m.Unknown = append(m.Unknown, p.current())
		}
	}
	return m, nil
}

// String renders the description with CRLF line endings, in the canonical
// v/o/s/../t/a order with media sections last.
func (s *Session) String() string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	line("v=%d", s.Version)
	line("o=%s", s.Origin.String())
	line("s=%s", s.Name)
	if s.Info != "" {
		line("i=%s", s.Info)
	}
	if s.Uri != "" {
		line("u=%s", s.Uri)
	}
	if s.Email != "" {
		line("e=%s", s.Email)
	}
	if s.Phone != "" {
		line("p=%s", s.Phone)
	}
	if s.Connection != nil {
		line("c=%s", s.Connection.String())
	}
	for _, t := range s.Time {
		line("t=%s", t.String())
	}
	for _, a := range s.Attributes {
		line("a=%s", a.String())
	}
	for _, u := range s.Unknown {
		line("%s", u)
	}
	for i := range s.Media {
		b.WriteString(s.Media[i].String())
	}
	return b.String()
}

func (m *Media) String() string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}

	line("m=%s %d %s %s", m.Type, m.Port, m.Proto, strings.Join(m.Format, " "))
	if m.Info != "" {
		line("i=%s", m.Info)
	}
	if m.Connection != nil {
		line("c=%s", m.Connection.String())
	}
	for _, a := range m.Attributes {
		line("a=%s", a.String())
	}
	for _, u := range m.Unknown {
		line("%s", u)
	}
	return b.String()
}

func (o Origin) String() string {
	return fmt.Sprintf("%s %s %d %s %s %s",
		o.Username, o.SessionId, o.SessionVersion, o.NetworkType, o.AddressType, o.Address)
}

func parseOrigin(value string) (Origin, error) {
	fields := strings.Fields(value)
	if len(fields) != 6 {
		return Origin{}, parseError("origin", value, nil)
	}
	version, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Origin{}, parseError("origin", value, err)
	}
	return Origin{
		Username:       fields[0],
		SessionId:      fields[1],
		SessionVersion: version,
		NetworkType:    fields[3],
		AddressType:    fields[4],
		Address:        fields[5],
	}, nil
}

func (c Connection) String() string {
	return fmt.Sprintf("%s %s %s", c.NetworkType, c.AddressType, c.Address)
}

func parseConnection(value string) (Connection, error) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return Connection{}, parseError("connection", value, nil)
	}
	return Connection{
		NetworkType: fields[0],
		AddressType: fields[1],
		Address:     fields[2],
	}, nil
}

// SDP timestamps count seconds from the NTP epoch (1900-01-01), which is
// this many seconds before the Unix epoch.
const ntpEpochOffset = 2208988800

func (t Time) String() string {
	ntp := func(b *time.Time) int64 {
		if b == nil {
			return 0
		}
		return b.Unix() + ntpEpochOffset
	}
	return fmt.Sprintf("%d %d", ntp(t.Start), ntp(t.Stop))
}

func parseTimeRange(value string) (Time, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return Time{}, parseError("time", value, nil)
	}
	var t Time
	for i, bound := range []**time.Time{&t.Start, &t.Stop} {
		n, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return Time{}, parseError("time", value, err)
		}
		if n != 0 {
			at := time.Unix(n-ntpEpochOffset, 0)
			*bound = &at
		}
	}
	return t, nil
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Key
	}
	return a.Key + ":" + a.Value
}

func parseAttribute(value string) Attribute {
	key, val, _ := strings.Cut(value, ":")
	return Attribute{Key: key, Value: val}
}

// parser walks the description line by line.
type parser struct {
	lines []string
	pos   int
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (p *parser) done() bool {
	return p.pos >= len(p.lines)
}

// current returns the line most recently consumed by next.
func (p *parser) current() string {
	return p.lines[p.pos-1]
}

// peekType returns the type letter of the upcoming line without consuming
// it, or 0 at end of input.
func (p *parser) peekType() byte {
	if p.done() {
		return 0
	}
	return p.lines[p.pos][0]
}

// next consumes one "x=value" line.
func (p *parser) next() (typ byte, value string, err error) {
	line := p.lines[p.pos]
	p.pos++
	if len(line) < 2 || line[1] != '=' {
		return 0, "", parseError("line", line, nil)
	}
	return line[0], line[2:], nil
}

func parseError(what, value string, cause error) error {
	if cause != nil {
		return fmt.Errorf("sdp: invalid %s %q: %v", what, value, cause)
	}
	return fmt.Errorf("sdp: invalid %s %q", what, value)
}
