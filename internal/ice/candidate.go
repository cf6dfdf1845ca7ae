package ice

import (
	"encoding/base32"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"strings"
)

// Candidate types, in descending type-preference order [RFC8445 §5.1.2.2].
const (
	hostType  = "host"
	srflxType = "srflx"
	prflxType = "prflx"
	relayType = "relay"
)

var typePreferences = map[string]int{
	hostType:  126,
	srflxType: 110,
	prflxType: 110,
	relayType: 0,
}

// A Candidate is one transport address a media stream could flow through,
// local or remote [RFC8445 §5.3].
type Candidate struct {
	// The media stream this candidate belongs to (SDP "mid").
	mid string

	address    TransportAddress
	typ        string
	priority   uint32
	foundation string
	component  int

	// Extension name/value pairs carried on the candidate line.
	attrs []Attribute

	// The local socket this candidate sends from; nil for remote
	// candidates.
	base *Base
}

type Attribute struct {
	name  string
	value string
}

// localCandidate fills the fields every locally gathered candidate shares.
func localCandidate(base *Base, typ string, address TransportAddress) Candidate {
	return Candidate{
		mid:       base.sdpMid,
		address:   address,
		typ:       typ,
		component: base.component,
		base:      base,
	}
}

func makeHostCandidate(base *Base) Candidate {
	c := localCandidate(base, hostType, base.address)
	c.priority = computePriority(hostType, base.localPreference(), base.component)
	c.foundation = computeFoundation(hostType, base.address, "")
	return c
}

func makeServerReflexiveCandidate(base *Base, mapped TransportAddress, stunServer string) Candidate {
	c := localCandidate(base, srflxType, mapped)
	c.priority = computePriority(srflxType, base.localPreference(), base.component)
	c.foundation = computeFoundation(srflxType, base.address, stunServer)
	c.addRelatedAddress()
	return c
}

func makePeerReflexiveCandidate(base *Base, addr net.Addr, priority uint32) Candidate {
	address := makeTransportAddress(addr)
	c := localCandidate(base, prflxType, address)
	c.priority = priority
	c.foundation = computeFoundation(prflxType, address, "")
	c.addRelatedAddress()
	return c
}

// addRelatedAddress attaches the raddr/rport pair [RFC5245 §15.1] that some
// browsers insist on for reflexive candidates. The values are deliberately
// uninformative; disclosing the base address is not required.
func (c *Candidate) addRelatedAddress() {
	c.addAttribute("raddr", "0.0.0.0")
	c.addAttribute("rport", "0")
}

// computePriority combines type preference, interface rank, and component
// per [RFC8445 §5.1.2.1].
func computePriority(typ string, localPref, component int) uint32 {
	typePref, ok := typePreferences[typ]
	if !ok {
		panic("unknown candidate type: " + typ)
	}
	return uint32(typePref)<<24 | uint32(localPref)<<8 | uint32(256-component)
}

// computeFoundation derives a short stable token that is equal exactly when
// two candidates share (type, base address, protocol, STUN server)
// [RFC8445 §5.1.1.3].
func computeFoundation(typ string, baseAddress TransportAddress, stunServer string) string {
	h := fnv.New64()
	fmt.Fprintf(h, "%s/%s/%s/%s", typ, baseAddress.protocol, baseAddress.ip, stunServer)
	return base32.StdEncoding.EncodeToString(h.Sum(nil))[:8]
}

func (c *Candidate) addAttribute(name, value string) {
	c.attrs = append(c.attrs, Attribute{name: name, value: value})
}

// peerPriority is the priority this candidate would have as peer-reflexive,
// carried in connectivity-check requests [RFC8445 §7.1.1].
func (c *Candidate) peerPriority() uint32 {
	localPref := 65535
	if c.base != nil {
		localPref = c.base.localPreference()
	}
	return computePriority(prflxType, localPref, c.component)
}

// Mid returns the media stream id this candidate belongs to.
func (c *Candidate) Mid() string {
	return c.mid
}

// String renders the candidate as its SDP line (without the "a=" prefix).
//
//	candidate:{foundation} {component} {protocol} {priority} {ip} {port} typ {type} ...
func (c Candidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate:%s %d %s %d %s %d typ %s",
		c.foundation, c.component, c.address.protocol, c.priority,
		c.address.displayIP(), c.address.port, c.typ)
	for _, a := range c.attrs {
		fmt.Fprintf(&b, " %s %s", a.name, a.value)
	}
	return b.String()
}

// ParseCandidate decodes a candidate line received over signaling into a
// remote Candidate for the given media stream.
// See https://tools.ietf.org/html/draft-ietf-mmusic-ice-sip-sdp-24#section-4.1
func ParseCandidate(desc, mid string) (Candidate, error) {
	fields := strings.Fields(desc)
	if len(fields) < 8 || fields[6] != "typ" {
		return Candidate{}, fmt.Errorf("malformed candidate line: %q", desc)
	}

	c := Candidate{mid: mid, typ: fields[7]}

	if !strings.HasPrefix(fields[0], "candidate:") {
		return Candidate{}, fmt.Errorf("missing candidate: prefix in %q", desc)
	}
	c.foundation = strings.TrimPrefix(fields[0], "candidate:")

	component, err := strconv.Atoi(fields[1])
	if err != nil || component < 1 || component > 256 {
		return Candidate{}, fmt.Errorf("bad component id %q", fields[1])
	}
	c.component = component

	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Candidate{}, fmt.Errorf("bad priority %q", fields[3])
	}
	c.priority = uint32(priority)

	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return Candidate{}, fmt.Errorf("bad port %q", fields[5])
	}
	c.address = parseTransportAddress(strings.ToLower(fields[2]), fields[4], port)

	// The tail is name/value extension pairs.
	rest := fields[8:]
	if len(rest)%2 != 0 {
		return Candidate{}, fmt.Errorf("dangling attribute name in %q", desc)
	}
	for i := 0; i < len(rest); i += 2 {
		c.addAttribute(rest[i], rest[i+1])
	}
	return c, nil
}
