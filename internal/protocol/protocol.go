// Package protocol implements the small text-based handshake exchanged
// between peers over the nominated transport once DTLS has completed:
// SYN/SYN-ACK/ACK to bring a session up, FIN/FIN-ACK/FIN-ACK2 to tear it
// down gracefully. The lines travel as plain ASCII datagrams beside the
// DTLS records and SRTP packets sharing that socket, not inside either; it
// has nothing to do with the wire format of RTP/RTCP packets themselves.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a handshake message type.
type Kind int

const (
	Syn Kind = iota
	SynAck
	Ack
	Fin
	FinAck
	FinAck2
)

func (k Kind) String() string {
	switch k {
	case Syn:
		return "SYN"
	case SynAck:
		return "SYN-ACK"
	case Ack:
		return "ACK"
	case Fin:
		return "FIN"
	case FinAck:
		return "FIN-ACK"
	case FinAck2:
		return "FIN-ACK2"
	default:
		return "UNKNOWN"
	}
}

// Message is a parsed handshake message. Not every field is meaningful for
// every Kind:
//
//	Syn     : Token
//	SynAck  : Your, Mine
//	Ack     : Your
//	Fin     : Token
//	FinAck  : Your, Mine
//	FinAck2 : Your
type Message struct {
	Kind  Kind
	Token uint64
	Your  uint64
	Mine  uint64
}

// EncodeSyn formats a SYN message carrying the sender's local token.
func EncodeSyn(token uint64) string {
	return fmt.Sprintf("SYN %016x", token)
}

// EncodeSynAck formats a SYN-ACK message echoing the peer's token and
// carrying the sender's own.
func EncodeSynAck(your, mine uint64) string {
	return fmt.Sprintf("SYN-ACK %016x %016x", your, mine)
}

// EncodeAck formats an ACK message acknowledging the peer's token.
func EncodeAck(your uint64) string {
	return fmt.Sprintf("ACK %016x", your)
}

// EncodeFin formats a FIN message carrying the sender's local token.
func EncodeFin(token uint64) string {
	return fmt.Sprintf("FIN %016x", token)
}

// EncodeFinAck formats a FIN-ACK message echoing the peer's token and
// carrying the sender's own.
func EncodeFinAck(your, mine uint64) string {
	return fmt.Sprintf("FIN-ACK %016x %016x", your, mine)
}

// EncodeFinAck2 formats a FIN-ACK2 message acknowledging the peer's token.
func EncodeFinAck2(your uint64) string {
	return fmt.Sprintf("FIN-ACK2 %016x", your)
}

func parseHex(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// Parse decodes a handshake message from raw bytes received over the
// nominated transport. It returns false if b does not contain a recognized
// message.
func Parse(b []byte) (Message, bool) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return Message{}, false
	}

	switch fields[0] {
	case "SYN":
		if len(fields) < 2 {
			return Message{}, false
		}
		token, ok := parseHex(fields[1])
		if !ok {
			return Message{}, false
		}
		return Message{Kind: Syn, Token: token}, true

	case "SYN-ACK":
		if len(fields) < 3 {
			return Message{}, false
		}
		your, ok1 := parseHex(fields[1])
		mine, ok2 := parseHex(fields[2])
		if !ok1 || !ok2 {
			return Message{}, false
		}
		return Message{Kind: SynAck, Your: your, Mine: mine}, true

	case "ACK":
		if len(fields) < 2 {
			return Message{}, false
		}
		your, ok := parseHex(fields[1])
		if !ok {
			return Message{}, false
		}
		return Message{Kind: Ack, Your: your}, true

	case "FIN":
		if len(fields) < 2 {
			return Message{}, false
		}
		token, ok := parseHex(fields[1])
		if !ok {
			return Message{}, false
		}
		return Message{Kind: Fin, Token: token}, true

	case "FIN-ACK":
		if len(fields) < 3 {
			return Message{}, false
		}
		your, ok1 := parseHex(fields[1])
		mine, ok2 := parseHex(fields[2])
		if !ok1 || !ok2 {
			return Message{}, false
		}
		return Message{Kind: FinAck, Your: your, Mine: mine}, true

	case "FIN-ACK2":
		if len(fields) < 2 {
			return Message{}, false
		}
		your, ok := parseHex(fields[1])
		if !ok {
			return Message{}, false
		}
		return Message{Kind: FinAck2, Your: your}, true

	default:
		return Message{}, false
	}
}
