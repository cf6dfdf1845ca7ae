package rtp

// Secure RTP (RFC 3711): AES-128-CTR payload encryption with HMAC-SHA1-80
// authentication, for both the data and control protocols. A cryptoContext
// carries one direction's session keys; index (ROC and replay) state lives
// with the streams, not here.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"

	"github.com/lanikai/rtcore/internal/packet"
)

const (
	// Key sizes for the AES_CM_128_HMAC_SHA1_80 profile.
	// See https://tools.ietf.org/html/rfc3711#section-8.2
	encryptKeyLength = 16
	authKeyLength    = 20
	authTagLength    = 10
	saltKeyLength    = 14

	// The SRTP packet index is 48 bits; the SRTCP index is 31, with the
	// top bit of the trailer word flagging an encrypted payload.
	maxRTPIndex  = 1<<48 - 1
	maxRTCPIndex = 1<<31 - 1
	rtcpEFlag    = 1 << 31
)

var (
	errAuthFailed   = errors.New("SRTP authentication failed")
	errShortPacket  = errors.New("SRTP packet too short")
	errShortControl = errors.New("SRTCP packet too short")
)

// Key derivation labels from RFC 3711 Section 4.3.
const (
	labelRTPEncrypt  = 0x00
	labelRTPAuth     = 0x01
	labelRTPSalt     = 0x02
	labelRTCPEncrypt = 0x03
	labelRTCPAuth    = 0x04
	labelRTCPSalt    = 0x05
)

// transformKeys is one protocol's derived session material: the AES block
// for the keystream, the session salt feeding each packet's IV, and the
// HMAC key.
type transformKeys struct {
	block cipher.Block
	salt  []byte
	mac   []byte
}

// apply XORs data with the AES-CM keystream for (ssrc, index), which both
// encrypts and decrypts.
// See https://tools.ietf.org/html/rfc3711#section-4.1.1
func (k *transformKeys) apply(data []byte, ssrc uint32, index uint64) {
	iv := packetIV(k.salt, ssrc, index)
	cipher.NewCTR(k.block, iv[:]).XORKeyStream(data, data)
}

// tag computes the leftmost 10 bytes of HMAC-SHA1 over the given parts.
func (k *transformKeys) tag(parts ...[]byte) []byte {
	mac := hmac.New(sha1.New, k.mac)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)[:authTagLength]
}

// packetIV assembles the per-packet counter-mode IV:
//
//	IV = (salt * 2^16) XOR (ssrc * 2^64) XOR (index * 2^16)
//
// i.e. the 14-byte salt left-aligned, with the SSRC folded in at byte 4 and
// the 48-bit index at byte 8.
func packetIV(salt []byte, ssrc uint32, index uint64) [aes.BlockSize]byte {
	var iv [aes.BlockSize]byte
	copy(iv[:], salt)
	for i := 0; i < 4; i++ {
		iv[4+i] ^= byte(ssrc >> (8 * (3 - i)))
	}
	for i := 0; i < 6; i++ {
		iv[8+i] ^= byte(index >> (8 * (5 - i)))
	}
	return iv
}

// cryptoContext holds one direction's session keys for both RTP and RTCP.
type cryptoContext struct {
	rtp  transformKeys
	rtcp transformKeys
}

func newCryptoContext(masterKey, masterSalt []byte) *cryptoContext {
	derive := func(encLabel, authLabel, saltLabel byte) transformKeys {
		block, err := aes.NewCipher(deriveKey(masterKey, masterSalt, encLabel, encryptKeyLength))
		if err != nil {
			panic(err) // master key has a fixed valid size
		}
		return transformKeys{
			block: block,
			mac:   deriveKey(masterKey, masterSalt, authLabel, authKeyLength),
			salt:  deriveKey(masterKey, masterSalt, saltLabel, saltKeyLength),
		}
	}
	return &cryptoContext{
		rtp:  derive(labelRTPEncrypt, labelRTPAuth, labelRTPSalt),
		rtcp: derive(labelRTCPEncrypt, labelRTCPAuth, labelRTCPSalt),
	}
}

// encryptAndSignRTP encrypts the payload region of a serialized RTP packet
// in place, then appends the 10-byte auth tag. The tag covers the whole
// packet followed by the 32-bit ROC, per RFC 3711 Section 4.2.
func (c *cryptoContext) encryptAndSignRTP(p *packet.Writer, hdr *rtpHeader, index uint64) error {
	c.rtp.apply(p.Bytes()[hdr.length():], hdr.ssrc, index&maxRTPIndex)

	var roc [4]byte
	binary.BigEndian.PutUint32(roc[:], uint32(index>>16))
	return p.WriteSlice(c.rtp.tag(p.Bytes(), roc[:]))
}

// verifyAndDecryptRTP checks the auth tag of a received SRTP packet, then
// decrypts and returns the payload. buf is modified in place.
func (c *cryptoContext) verifyAndDecryptRTP(buf []byte, hdr *rtpHeader, index uint64) ([]byte, error) {
	tagStart := len(buf) - authTagLength
	if tagStart < hdr.length() {
		return nil, errShortPacket
	}

	var roc [4]byte
	binary.BigEndian.PutUint32(roc[:], uint32(index>>16))
	if !hmac.Equal(c.rtp.tag(buf[:tagStart], roc[:]), buf[tagStart:]) {
		return nil, errAuthFailed
	}

	payload := buf[hdr.length():tagStart]
	c.rtp.apply(payload, hdr.ssrc, index&maxRTPIndex)
	return payload, nil
}

// encryptAndSignRTCP encrypts a serialized RTCP compound in place (only the
// first header and SSRC stay in the clear), appends the E-flag plus
// SRTCP index word, and signs the result.
// See https://tools.ietf.org/html/rfc3711#section-3.4
func (c *cryptoContext) encryptAndSignRTCP(p *packet.Writer, index uint64) error {
	buf := p.Bytes()
	ssrc := binary.BigEndian.Uint32(buf[4:8])
	c.rtcp.apply(buf[8:], ssrc, index&maxRTCPIndex)

	p.WriteUint32(rtcpEFlag | uint32(index&maxRTCPIndex))
	return p.WriteSlice(c.rtcp.tag(p.Bytes()))
}

// verifyAndDecryptRTCP checks the auth tag of a received SRTCP packet, then
// decrypts it in place and returns the whole compound (first header
// included) along with the SRTCP index.
func (c *cryptoContext) verifyAndDecryptRTCP(buf []byte) ([]byte, uint64, error) {
	trailer := len(buf) - authTagLength - 4
	if trailer < 8 {
		return nil, 0, errShortControl
	}

	if !hmac.Equal(c.rtcp.tag(buf[:len(buf)-authTagLength]), buf[len(buf)-authTagLength:]) {
		return nil, 0, errAuthFailed
	}

	word := binary.BigEndian.Uint32(buf[trailer:])
	index := uint64(word &^ rtcpEFlag)
	if word&rtcpEFlag != 0 {
		ssrc := binary.BigEndian.Uint32(buf[4:8])
		c.rtcp.apply(buf[8:trailer], ssrc, index)
	}
	return buf[:trailer], index, nil
}

// deriveKey runs the AES-CM key derivation function with rate 0: the
// master salt (zero-padded to a block) with the label folded in at byte 7
// seeds a CTR keystream keyed by the master key, and the first n bytes of
// that keystream are the derived key.
// See https://tools.ietf.org/html/rfc3711#section-4.3
func deriveKey(masterKey, masterSalt []byte, label byte, n int) []byte {
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		panic(err)
	}

	var x [aes.BlockSize]byte
	copy(x[:], masterSalt)
	x[7] ^= label

	out := make([]byte, n)
	cipher.NewCTR(block, x[:]).XORKeyStream(out, out)
	return out
}
