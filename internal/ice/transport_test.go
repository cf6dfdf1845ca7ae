package ice

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportAddressFromUDP(t *testing.T) {
	ta := makeTransportAddress(&net.UDPAddr{IP: net.ParseIP("198.51.100.4"), Port: 9999})

	assert.True(t, ta.resolved())
	assert.Equal(t, IPv4, ta.family)
	assert.Equal(t, UDP, ta.protocol)
	assert.Equal(t, "198.51.100.4", ta.displayIP())
	assert.Equal(t, "udp/198.51.100.4:9999", ta.String())
}

func TestTransportAddressIPv6Rendering(t *testing.T) {
	ta := makeTransportAddress(&net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 443})

	assert.Equal(t, IPv6, ta.family)
	assert.Equal(t, "2001:db8::1", ta.displayIP())
	// IPv6 hosts are bracketed when joined with a port.
	assert.Equal(t, "udp/[2001:db8::1]:443", ta.String())
}

func TestTransportAddressHostname(t *testing.T) {
	ta := parseTransportAddress("udp", "stun.example.net", 3478)

	assert.False(t, ta.resolved())
	assert.Equal(t, Unresolved, ta.family)
	assert.Equal(t, "stun.example.net", ta.displayIP())
}

func TestTransportAddressEquality(t *testing.T) {
	a := parseTransportAddress("udp", "192.0.2.1", 1000)
	b := parseTransportAddress("udp", "192.0.2.1", 1000)
	c := parseTransportAddress("udp", "192.0.2.1", 1001)

	// TransportAddress is a comparable value type; the checklist relies on
	// == for pair matching.
	assert.True(t, a == b)
	assert.False(t, a == c)
}

func TestTransportAddressNetAddr(t *testing.T) {
	ta := parseTransportAddress("udp", "203.0.113.20", 5004)
	addr := ta.netAddr()
	udp, ok := addr.(*net.UDPAddr)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.20", udp.IP.String())
	assert.Equal(t, 5004, udp.Port)
}
