// Package dtls is the thin boundary to the DTLS library. The handshake
// itself is an external collaborator; this package only fixes the interface
// the session orchestrator depends on: run a handshake over an established
// net.Conn, pin the peer certificate against the fingerprint learned from
// SDP, and export the SRTP keying material.
package dtls

import (
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/pion/dtls/v2"
	"github.com/pkg/errors"

	"github.com/lanikai/rtcore/internal/logging"
	"github.com/lanikai/rtcore/internal/rtp"
)

var log = logging.New("dtls")

const (
	// SRTP_AES128_CM_HMAC_SHA1_80 key sizes, per RFC 5764 Section 4.2.
	keyLen  = 16
	saltLen = 14

	keyingMaterialLabel = "EXTRACTOR-dtls_srtp"
)

// Role selects which end of the handshake we run. By convention the SDP
// offerer takes `setup:actpass` and the answerer picks `active`, so the
// answerer dials as the DTLS client.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Keys is the SRTP keying material for both directions, split out of the
// DTLS exporter output.
type Keys struct {
	Read  rtp.EndpointKeys
	Write rtp.EndpointKeys
}

// Handshake runs a DTLS handshake over conn, verifies the peer's certificate
// against remoteFingerprint (colon-separated SHA-256 hex from the peer's
// SDP), and derives the SRTP keys. The returned dtls.Conn must be kept open
// for the lifetime of the session; closing it tears down the DTLS state.
func Handshake(conn net.Conn, cert tls.Certificate, role Role, remoteFingerprint string) (*dtls.Conn, Keys, error) {
	config := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		},
		// Peer identity is established by fingerprint pinning below, not by
		// a CA chain; WebRTC certificates are self-signed.
		InsecureSkipVerify: true,
		ClientAuth:         dtls.RequireAnyClientCert,
	}

	var dtlsConn *dtls.Conn
	var err error
	switch role {
	case RoleClient:
		dtlsConn, err = dtls.Client(conn, config)
	default:
		dtlsConn, err = dtls.Server(conn, config)
	}
	if err != nil {
		return nil, Keys{}, errors.Wrap(err, "DTLS handshake")
	}

	state := dtlsConn.ConnectionState()
	if err := verifyFingerprint(state.PeerCertificates, remoteFingerprint); err != nil {
		dtlsConn.Close()
		return nil, Keys{}, err
	}

	keys, err := exportKeys(&state, role)
	if err != nil {
		dtlsConn.Close()
		return nil, Keys{}, err
	}

	log.Info("DTLS established, peer fingerprint verified")
	return dtlsConn, keys, nil
}

// exportKeys splits the RFC 5764 exporter output into per-direction master
// keys and salts. The material is laid out client-write-key,
// server-write-key, client-write-salt, server-write-salt.
func exportKeys(state *dtls.State, role Role) (Keys, error) {
	material, err := state.ExportKeyingMaterial(keyingMaterialLabel, nil, 2*keyLen+2*saltLen)
	if err != nil {
		return Keys{}, errors.Wrap(err, "SRTP key export")
	}

	clientKey := material[0:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen:]

	client := rtp.EndpointKeys{MasterKey: dup(clientKey), MasterSalt: dup(clientSalt)}
	server := rtp.EndpointKeys{MasterKey: dup(serverKey), MasterSalt: dup(serverSalt)}

	if role == RoleClient {
		return Keys{Write: client, Read: server}, nil
	}
	return Keys{Write: server, Read: client}, nil
}

func dup(b []byte) []byte {
	return append([]byte(nil), b...)
}

// verifyFingerprint pins the handshake certificate to the SHA-256
// fingerprint announced in the peer's SDP.
func verifyFingerprint(peerCertificates [][]byte, expected string) error {
	if len(peerCertificates) == 0 {
		return errors.New("peer presented no certificate")
	}
	actual := FingerprintOf(peerCertificates[0])
	if !strings.EqualFold(actual, expected) {
		return errors.Errorf("certificate fingerprint mismatch: %s != %s", actual, expected)
	}
	return nil
}

// FingerprintOf formats the SHA-256 fingerprint of a DER certificate the way
// SDP carries it: uppercase hex octets joined by colons.
func FingerprintOf(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
