package ice

// STUN message codec (RFC 5389), restricted to what ICE connectivity checks
// need: the Binding method, the address/credential/priority attributes, and
// MESSAGE-INTEGRITY/FINGERPRINT trailers.

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"net"
	"strings"

	"github.com/lanikai/rtcore/internal/packet"
)

const (
	stunHeaderLength  = 20
	stunMagic         = 0x2112A442
	stunTransactionID = 12

	methodBinding = 0x001
)

// Message classes, RFC 5389 Section 6.
type stunClass uint16

const (
	stunRequest stunClass = iota
	stunIndication
	stunSuccessResponse
	stunErrorResponse
)

func (c stunClass) String() string {
	switch c {
	case stunRequest:
		return "request"
	case stunIndication:
		return "indication"
	case stunSuccessResponse:
		return "success response"
	case stunErrorResponse:
		return "error response"
	default:
		return "unknown class"
	}
}

// Attribute type codes used by ICE.
const (
	attrMappedAddress    = 0x0001
	attrUsername         = 0x0006
	attrMessageIntegrity = 0x0008
	attrErrorCode        = 0x0009
	attrXorMappedAddress = 0x0020
	attrPriority         = 0x0024
	attrUseCandidate     = 0x0025
	attrFingerprint      = 0x8028
	attrIceControlled    = 0x8029
	attrIceControlling   = 0x802A
)

type stunAttribute struct {
	typ   uint16
	value []byte
}

// paddedSize is the attribute's on-wire footprint: 4-byte header plus the
// value rounded up to a 32-bit boundary.
func (a *stunAttribute) paddedSize() int {
	return 4 + (len(a.value)+3)&^3
}

type stunMessage struct {
	class  stunClass
	method uint16

	// 12 opaque bytes pairing responses with requests.
	transactionID string

	attributes []stunAttribute
}

// The message type field interleaves the class bits into the method bits:
//
//	 0                 1
//	 2  3  4 5 6 7 8 9 0 1 2 3 4 5
//	+--+--+-+-+-+-+-+-+-+-+-+-+-+-+
//	|M |M |M|M|M|C|M|M|M|C|M|M|M|M|
//	|11|10|9|8|7|1|6|5|4|0|3|2|1|0|
//	+--+--+-+-+-+-+-+-+-+-+-+-+-+-+
func encodeMessageType(class stunClass, method uint16) uint16 {
	c := uint16(class)
	return method&0x000f |
		(method&0x0070)<<1 |
		(method&0x0f80)<<2 |
		(c&1)<<4 |
		(c&2)<<7
}

func decodeMessageType(t uint16) (stunClass, uint16) {
	class := stunClass((t>>4)&1 | (t>>7)&2)
	method := t&0x000f | (t>>1)&0x0070 | (t>>2)&0x0f80
	return class, method
}

// newStunMessage builds an empty message. An empty transactionID draws a
// random one.
func newStunMessage(class stunClass, method uint16, transactionID string) *stunMessage {
	if method>>12 != 0 {
		panic(fmt.Sprintf("STUN method out of range: %#x", method))
	}
	if transactionID == "" {
		tid := make([]byte, stunTransactionID)
		rand.Read(tid)
		transactionID = string(tid)
	} else if len(transactionID) != stunTransactionID {
		panic(fmt.Sprintf("bad STUN transaction ID length: %d", len(transactionID)))
	}
	return &stunMessage{
		class:         class,
		method:        method,
		transactionID: transactionID,
	}
}

func newStunBindingRequest(transactionID string) *stunMessage {
	return newStunMessage(stunRequest, methodBinding, transactionID)
}

// newStunBindingResponse answers a binding request: it echoes the request's
// transaction ID, reflects the sender's address, and authenticates with the
// local password.
func newStunBindingResponse(transactionID string, raddr net.Addr, password string) *stunMessage {
	msg := newStunMessage(stunSuccessResponse, methodBinding, transactionID)
	msg.setXorMappedAddress(raddr)
	msg.addMessageIntegrity(password)
	msg.addFingerprint()
	return msg
}

// newStunBindingIndication builds the keepalive sent on the selected pair.
func newStunBindingIndication() *stunMessage {
	msg := newStunMessage(stunIndication, methodBinding, "")
	msg.addFingerprint()
	return msg
}

// addAttribute appends an attribute, copying the value.
func (msg *stunMessage) addAttribute(typ uint16, value []byte) {
	msg.attributes = append(msg.attributes, stunAttribute{
		typ:   typ,
		value: append([]byte(nil), value...),
	})
}

// findAttribute returns the first attribute of the given type.
func (msg *stunMessage) findAttribute(typ uint16) ([]byte, bool) {
	for i := range msg.attributes {
		if msg.attributes[i].typ == typ {
			return msg.attributes[i].value, true
		}
	}
	return nil, false
}

// bodyLength is the serialized size of all attributes.
func (msg *stunMessage) bodyLength() int {
	n := 0
	for i := range msg.attributes {
		n += msg.attributes[i].paddedSize()
	}
	return n
}

// Bytes serializes the message.
func (msg *stunMessage) Bytes() []byte {
	w := packet.NewWriterSize(stunHeaderLength + msg.bodyLength())
	w.WriteUint16(encodeMessageType(msg.class, msg.method))
	w.WriteUint16(uint16(msg.bodyLength()))
	w.WriteUint32(stunMagic)
	w.WriteString(msg.transactionID)
	for i := range msg.attributes {
		a := &msg.attributes[i]
		w.WriteUint16(a.typ)
		w.WriteUint16(uint16(len(a.value)))
		w.WriteSlice(a.value)
		w.Align(4)
	}
	return w.Bytes()
}

// parseStunMessage decodes a datagram. It returns (nil, nil) when the bytes
// are well-formed but simply not STUN, so callers can fall through to other
// protocols sharing the socket.
func parseStunMessage(data []byte) (*stunMessage, error) {
	if len(data) < stunHeaderLength {
		return nil, nil
	}

	r := packet.NewReader(data)
	messageType := r.ReadUint16()
	bodyLength := int(r.ReadUint16())
	magic := r.ReadUint32()
	if messageType>>14 != 0 || bodyLength%4 != 0 || magic != stunMagic {
		return nil, nil
	}

	class, method := decodeMessageType(messageType)
	msg := &stunMessage{
		class:         class,
		method:        method,
		transactionID: r.ReadString(stunTransactionID),
	}

	if err := r.CheckRemaining(bodyLength); err != nil {
		return msg, fmt.Errorf("truncated STUN message: %v", err)
	}
	for r.Remaining() >= 4 {
		typ := r.ReadUint16()
		size := int(r.ReadUint16())
		if err := r.CheckRemaining(size); err != nil {
			return msg, fmt.Errorf("truncated STUN attribute %#x: %v", typ, err)
		}
		value := append([]byte(nil), r.ReadSlice(size)...)
		r.Align(4)
		msg.attributes = append(msg.attributes, stunAttribute{typ: typ, value: value})
	}
	return msg, nil
}

// The ICE-CONTROLLING/ICE-CONTROLLED tie-breaker. Role conflicts are
// resolved at negotiation time in this implementation, so a fixed value
// suffices.
var roleTieBreaker = []byte{1, 2, 3, 4, 5, 6, 7, 8}

func (msg *stunMessage) addPriority(p uint32) {
	value := []byte{byte(p >> 24), byte(p >> 16), byte(p >> 8), byte(p)}
	msg.addAttribute(attrPriority, value)
}

func (msg *stunMessage) getPriority() uint32 {
	value, ok := msg.findAttribute(attrPriority)
	if !ok || len(value) != 4 {
		return 0
	}
	return uint32(value[0])<<24 | uint32(value[1])<<16 | uint32(value[2])<<8 | uint32(value[3])
}

func (msg *stunMessage) hasUseCandidate() bool {
	_, ok := msg.findAttribute(attrUseCandidate)
	return ok
}

// getMappedAddress returns the reflexive address from a response,
// preferring the XOR form.
func (msg *stunMessage) getMappedAddress() *net.UDPAddr {
	if value, ok := msg.findAttribute(attrXorMappedAddress); ok {
		return decodeAddress(value, msg.transactionID, true)
	}
	if value, ok := msg.findAttribute(attrMappedAddress); ok {
		return decodeAddress(value, msg.transactionID, false)
	}
	return nil
}

// Address attribute layout: one reserved byte, a family byte, the port, and
// the IP. The XOR form masks port and IP with the magic cookie (and, for
// IPv6, the transaction ID).
func decodeAddress(value []byte, transactionID string, xored bool) *net.UDPAddr {
	if len(value) < 8 {
		return nil
	}
	port := int(value[2])<<8 | int(value[3])

	var ip net.IP
	switch value[1] {
	case 0x01:
		ip = append(net.IP(nil), value[4:8]...)
	case 0x02:
		if len(value) < 20 {
			return nil
		}
		ip = append(net.IP(nil), value[4:20]...)
	default:
		return nil
	}

	if xored {
		port ^= stunMagic >> 16
		mask := append(magicBytes(), transactionID...)
		for i := range ip {
			ip[i] ^= mask[i]
		}
	}
	return &net.UDPAddr{IP: ip, Port: port}
}

func (msg *stunMessage) setXorMappedAddress(addr net.Addr) {
	var ip net.IP
	var port int
	switch a := addr.(type) {
	case *net.UDPAddr:
		ip, port = a.IP, a.Port
	case *net.TCPAddr:
		ip, port = a.IP, a.Port
	default:
		return
	}

	var value []byte
	if v4 := ip.To4(); v4 != nil {
		value = make([]byte, 8)
		value[1] = 0x01
		copy(value[4:], v4)
	} else {
		value = make([]byte, 20)
		value[1] = 0x02
		copy(value[4:], ip.To16())
	}

	port ^= stunMagic >> 16
	value[2], value[3] = byte(port>>8), byte(port)
	mask := append(magicBytes(), msg.transactionID...)
	for i := range value[4:] {
		value[4+i] ^= mask[i]
	}
	msg.addAttribute(attrXorMappedAddress, value)
}

func magicBytes() []byte {
	return []byte{stunMagic >> 24, stunMagic >> 16 & 0xff, stunMagic >> 8 & 0xff, stunMagic & 0xff}
}

// addMessageIntegrity appends the HMAC-SHA1 trailer. The hash covers the
// message as serialized with the integrity attribute's 20 bytes already
// counted in the length but not yet filled in.
// See https://tools.ietf.org/html/rfc5389#section-15.4
func (msg *stunMessage) addMessageIntegrity(password string) {
	msg.addAttribute(attrMessageIntegrity, make([]byte, sha1.Size))
	serialized := msg.Bytes()

	mac := hmac.New(sha1.New, []byte(password))
	mac.Write(serialized[:len(serialized)-4-sha1.Size])
	copy(msg.attributes[len(msg.attributes)-1].value, mac.Sum(nil))
}

// addFingerprint appends the CRC32 trailer.
// See https://tools.ietf.org/html/rfc5389#section-15.5
func (msg *stunMessage) addFingerprint() {
	msg.addAttribute(attrFingerprint, make([]byte, 4))
	serialized := msg.Bytes()

	crc := crc32.ChecksumIEEE(serialized[:len(serialized)-8]) ^ 0x5354554e
	value := msg.attributes[len(msg.attributes)-1].value
	value[0], value[1], value[2], value[3] = byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc)
}

func (msg *stunMessage) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "STUN %s", msg.class)
	if msg.method != methodBinding {
		fmt.Fprintf(&b, " (method %#x)", msg.method)
	}
	fmt.Fprintf(&b, " tid=%s", hex.EncodeToString([]byte(msg.transactionID)))

	for i := range msg.attributes {
		a := &msg.attributes[i]
		switch a.typ {
		case attrUsername:
			fmt.Fprintf(&b, " USERNAME=%s", a.value)
		case attrMappedAddress:
			fmt.Fprintf(&b, " MAPPED-ADDRESS=%s", decodeAddress(a.value, msg.transactionID, false))
		case attrXorMappedAddress:
			fmt.Fprintf(&b, " XOR-MAPPED-ADDRESS=%s", decodeAddress(a.value, msg.transactionID, true))
		case attrPriority:
			fmt.Fprintf(&b, " PRIORITY=%d", msg.getPriority())
		case attrUseCandidate:
			b.WriteString(" USE-CANDIDATE")
		case attrIceControlling:
			b.WriteString(" ICE-CONTROLLING")
		case attrIceControlled:
			b.WriteString(" ICE-CONTROLLED")
		case attrErrorCode:
			fmt.Fprintf(&b, " ERROR-CODE=%q", a.value)
		case attrMessageIntegrity, attrFingerprint:
			// trailers carry no information worth printing
		default:
			fmt.Fprintf(&b, " attr(%#x)", a.typ)
		}
	}
	return b.String()
}
