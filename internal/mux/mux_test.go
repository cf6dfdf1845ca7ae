package mux

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeMux builds a mux over one end of an in-memory pipe and returns the
// far end for injecting datagrams.
func pipeMux(t *testing.T) (*Mux, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	m := NewMux(near, 2048)
	t.Cleanup(func() { m.Close(); far.Close() })
	return m, far
}

func TestDispatchByFirstByte(t *testing.T) {
	m, far := pipeMux(t)
	dtls := m.NewEndpoint(MatchDTLS)
	rtp := m.NewEndpoint(MatchRTP)

	_, err := far.Write([]byte{22, 1, 2, 3}) // DTLS handshake record
	require.NoError(t, err)
	_, err = far.Write([]byte{0x80, 96, 0, 1}) // RTP, payload type 96
	require.NoError(t, err)

	buf := make([]byte, 16)
	dtls.SetReadDeadline(time.Now().Add(time.Second))
	n, err := dtls.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{22, 1, 2, 3}, buf[:n])

	rtp.SetReadDeadline(time.Now().Add(time.Second))
	n, err = rtp.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 96, 0, 1}, buf[:n])
}

func TestUnclaimedPacketIsDropped(t *testing.T) {
	m, far := pipeMux(t)
	ctrl := m.NewEndpoint(MatchControl)

	// A STUN-range packet has no endpoint here.
	_, err := far.Write([]byte{0, 1, 0, 0})
	require.NoError(t, err)
	_, err = far.Write([]byte("SYN 0000000000000001"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	ctrl.SetReadDeadline(time.Now().Add(time.Second))
	n, err := ctrl.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "SYN 0000000000000001", string(buf[:n]))
}

func TestReadDeadline(t *testing.T) {
	m, _ := pipeMux(t)
	e := m.NewEndpoint(MatchRTP)

	e.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, err := e.Read(make([]byte, 16))
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestCloseUnblocksReaders(t *testing.T) {
	m, _ := pipeMux(t)
	e := m.NewEndpoint(MatchRTP)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Read(make([]byte, 16))
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.Close()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader did not unblock on close")
	}
}
