package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
)

var (
	flagHelp    bool
	flagVersion bool

	// Signaling rendezvous: exactly one of listen/connect.
	flagListen  string
	flagConnect string

	// The listening side answers; the dialing side offers.
	flagInput string

	flagFPS              uint32
	flagCamera           uint32
	flagMaxBitrate       uint32
	flagMinBitrate       uint32
	flagKeyframeInterval uint32

	flagDTLSCert string
	flagDTLSKey  string

	flagCAPath       string
	flagServerDomain string

	flagIPv6       bool
	flagSTUNServer string

	flagHandshakeTimeoutMS uint32
	flagResendEveryMS      uint32
	flagCloseTimeoutMS     uint32
	flagCloseResendMS      uint32
)

func init() {
	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage")
	flag.BoolVar(&flagVersion, "version", false, "Print version")

	flag.StringVar(&flagListen, "listen", "", "Wait for a peer on this address (e.g. :8000)")
	flag.StringVar(&flagConnect, "connect", "", "Dial a waiting peer (e.g. ws://host:8000/ws)")

	flag.StringVarP(&flagInput, "input", "i", "", "Annex-B H.264 file to stream")

	flag.Uint32Var(&flagFPS, "fps", 30, "Target frame rate")
	flag.Uint32Var(&flagCamera, "camera", 0, "Camera index")
	flag.Uint32Var(&flagMaxBitrate, "max-bitrate", 1_500_000, "Maximum video bitrate (bps)")
	flag.Uint32Var(&flagMinBitrate, "min-bitrate", 500_000, "Minimum video bitrate (bps)")
	flag.Uint32Var(&flagKeyframeInterval, "keyframe-interval", 90, "Frames between keyframes")

	flag.StringVar(&flagDTLSCert, "dtls-cert", "", "DTLS certificate path (PEM); ephemeral if unset")
	flag.StringVar(&flagDTLSKey, "dtls-key", "", "DTLS private key path (PEM)")

	flag.StringVar(&flagCAPath, "ca-path", "", "CA bundle for wss:// signaling")
	flag.StringVar(&flagServerDomain, "server-domain", "", "Expected signaling server certificate name")

	flag.BoolVar(&flagIPv6, "ipv6", false, "Gather IPv6 ICE candidates")
	flag.StringVar(&flagSTUNServer, "stun-server", "", "STUN server for server-reflexive candidates")

	flag.Uint32Var(&flagHandshakeTimeoutMS, "handshake-timeout-ms", 10000, "Application handshake timeout")
	flag.Uint32Var(&flagResendEveryMS, "resend-every-ms", 500, "SYN resend interval")
	flag.Uint32Var(&flagCloseTimeoutMS, "close-timeout-ms", 5000, "Graceful close timeout")
	flag.Uint32Var(&flagCloseResendMS, "close-resend-every-ms", 500, "FIN resend interval")
}

func help() {
	fmt.Fprintf(os.Stderr, "Usage: %s (--listen ADDR | --connect URL) [options]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func version() {
	fmt.Println("rtcored (development build)")
}
