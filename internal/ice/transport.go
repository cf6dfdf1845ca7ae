package ice

import (
	"fmt"
	"net"
	"strconv"
)

// IPAddress holds the raw bytes of an IP address (4 bytes for IPv4, 16 for
// IPv6) once resolved, or the literal hostname/text if it never was.
type IPAddress string

// AddressFamily classifies a TransportAddress by whether and how its IP was
// resolved.
type AddressFamily int

const (
	Unresolved AddressFamily = iota
	IPv4
	IPv6
)

const (
	UDP = "udp"
	TCP = "tcp"
)

// TransportAddress is a (protocol, IP, port) tuple, as used throughout
// [RFC8445] to describe candidates and bases.
type TransportAddress struct {
	protocol  string // "udp" or "tcp"
	ip        IPAddress
	port      int
	family    AddressFamily
	linkLocal bool
}

func makeTransportAddress(addr net.Addr) TransportAddress {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return transportAddressFromIP(UDP, a.IP, a.Port)
	case *net.TCPAddr:
		return transportAddressFromIP(TCP, a.IP, a.Port)
	default:
		panic("Unsupported net.Addr type: " + addr.String())
	}
}

func transportAddressFromIP(protocol string, ip net.IP, port int) TransportAddress {
	if ip4 := ip.To4(); ip4 != nil {
		return TransportAddress{protocol: protocol, ip: IPAddress(ip4), port: port, family: IPv4, linkLocal: ip.IsLinkLocalUnicast()}
	}
	if ip16 := ip.To16(); ip16 != nil {
		return TransportAddress{protocol: protocol, ip: IPAddress(ip16), port: port, family: IPv6, linkLocal: ip.IsLinkLocalUnicast()}
	}
	return TransportAddress{protocol: protocol, ip: IPAddress(ip.String()), port: port}
}

// parseTransportAddress builds a TransportAddress from a candidate line's
// textual address. Literal IPs resolve immediately; hostnames are kept
// Unresolved and carried through verbatim.
func parseTransportAddress(protocol, host string, port int) TransportAddress {
	if ip := net.ParseIP(host); ip != nil {
		return transportAddressFromIP(protocol, ip, port)
	}
	return TransportAddress{protocol: protocol, ip: IPAddress(host), port: port}
}

// resolved reports whether this address carries a parsed IP, as opposed to
// an opaque hostname.
func (ta TransportAddress) resolved() bool {
	return ta.family != Unresolved
}

// displayIP renders the address's IP in its usual human-readable form.
func (ta TransportAddress) displayIP() string {
	switch ta.family {
	case IPv4, IPv6:
		return net.IP(ta.ip).String()
	default:
		return string(ta.ip)
	}
}

// netAddr reconstructs a net.Addr suitable for use with the standard
// library, for sending to a resolved address.
func (ta TransportAddress) netAddr() net.Addr {
	hostport := net.JoinHostPort(ta.displayIP(), strconv.Itoa(ta.port))
	if ta.protocol == TCP {
		addr, _ := net.ResolveTCPAddr(TCP, hostport)
		return addr
	}
	addr, _ := net.ResolveUDPAddr(UDP, hostport)
	return addr
}

func (ta TransportAddress) String() string {
	if ta.family == IPv6 {
		return fmt.Sprintf("%s/[%s]:%d", ta.protocol, ta.displayIP(), ta.port)
	}
	return fmt.Sprintf("%s/%s:%d", ta.protocol, ta.displayIP(), ta.port)
}
