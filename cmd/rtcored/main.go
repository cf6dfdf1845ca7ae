package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtcore"
	"github.com/lanikai/rtcore/internal/dtls"
	"github.com/lanikai/rtcore/internal/ice"
	"github.com/lanikai/rtcore/internal/media"
	"github.com/lanikai/rtcore/internal/signaling"
)

const signalingPath = "/ws"

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if (flagListen == "") == (flagConnect == "") {
		fmt.Fprintln(os.Stderr, "exactly one of --listen or --connect is required")
		help()
		os.Exit(2)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rtcored:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := rtcore.Config{
		Media: rtcore.MediaConfig{
			FPS:              flagFPS,
			DefaultCamera:    flagCamera,
			MaxBitrate:       flagMaxBitrate,
			MinBitrate:       flagMinBitrate,
			KeyframeInterval: flagKeyframeInterval,
		},
		TLS: rtcore.TLSConfig{
			DTLSCert: flagDTLSCert,
			DTLSKey:  flagDTLSKey,
		},
		Signaling: rtcore.SignalingConfig{
			CAPath:       flagCAPath,
			ServerDomain: flagServerDomain,
		},
		Session: rtcore.SessionConfig{
			HandshakeTimeout: time.Duration(flagHandshakeTimeoutMS) * time.Millisecond,
			ResendEvery:      time.Duration(flagResendEveryMS) * time.Millisecond,
			CloseTimeout:     time.Duration(flagCloseTimeoutMS) * time.Millisecond,
			CloseResendEvery: time.Duration(flagCloseResendMS) * time.Millisecond,
		},
	}
	cfg.Sanitize()
	ice.SetOptions(flagIPv6, flagSTUNServer)

	cert, err := loadIdentity(cfg.TLS)
	if err != nil {
		return err
	}

	// Rendezvous with the peer: the listener answers, the dialer offers.
	var transport signaling.Transport
	offerer := flagConnect != ""
	if offerer {
		transport, err = signaling.Dial(flagConnect, signaling.DialConfig{
			CAPath:       cfg.Signaling.CAPath,
			ServerDomain: cfg.Signaling.ServerDomain,
		})
		if err != nil {
			return err
		}
	} else {
		listener := signaling.Listen(flagListen, signalingPath)
		defer listener.Close()
		fmt.Println("waiting for peer on", flagListen+signalingPath)
		if transport, err = listener.Accept(); err != nil {
			return err
		}
	}
	defer transport.Close()

	manager := rtcore.NewConnectionManager(cert)

	if offerer {
		offer, err := manager.Negotiate()
		if err != nil {
			return err
		}
		if err := transport.SendSDP("offer", offer); err != nil {
			return err
		}
	}

	// Run signaling until both descriptions are applied, then keep relaying
	// trickled candidates in the background.
	negotiated := make(chan struct{})
	go func() {
		done := false
		for msg := range transport.Recv() {
			switch msg.Kind {
			case "offer":
				answer, err := manager.ApplyRemoteSDP(msg.SDP)
				if err != nil {
					fmt.Fprintln(os.Stderr, "bad offer:", err)
					return
				}
				if err := transport.SendSDP("answer", answer); err != nil {
					return
				}
				if !done {
					done = true
					close(negotiated)
				}
			case "answer":
				if _, err := manager.ApplyRemoteSDP(msg.SDP); err != nil {
					fmt.Fprintln(os.Stderr, "bad answer:", err)
					return
				}
				if !done {
					done = true
					close(negotiated)
				}
			case "candidate":
				if err := manager.ApplyRemoteTrickleCandidate(msg.Candidate, msg.Mid); err != nil {
					fmt.Fprintln(os.Stderr, "bad candidate:", err)
				}
			}
		}
	}()

	select {
	case <-negotiated:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("signaling timed out")
	}

	// Trickle local candidates as ICE discovers them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lcand := make(chan ice.Candidate, 16)
	go func() {
		for c := range lcand {
			transport.SendCandidate(c.String(), c.Mid())
		}
		transport.SendCandidate("", "")
	}()

	conn, err := manager.Connect(ctx, lcand)
	if err != nil {
		return err
	}

	session, err := rtcore.NewSession(conn, manager, cfg.Session)
	if err != nil {
		return err
	}
	session.Start()

	select {
	case <-session.Established():
	case <-time.After(cfg.Session.HandshakeTimeout + time.Second):
		session.Close()
		return fmt.Errorf("session handshake failed")
	}

	agent, err := buildMediaAgent(cfg.Media)
	if err != nil {
		session.Close()
		return err
	}
	agent.Start()

	mediaTransport := rtcore.NewMediaTransport(session, agent, cfg)
	if err := mediaTransport.Start(); err != nil {
		agent.Stop()
		session.Close()
		return err
	}
	// Deferred calls run in reverse: the agent stops before the transport.
	defer mediaTransport.Stop()
	defer agent.Stop()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-interrupt:
			fmt.Println("closing session")
			go session.RequestClose()
		case ev := <-session.Events():
			switch e := ev.(type) {
			case rtcore.EstablishedEvent:
				fmt.Printf("established, peer token %016x\n", e.PeerToken)
			case rtcore.BitrateEvent:
				fmt.Printf("bitrate -> %d bps\n", e.BitsPerSecond)
			case rtcore.ClosedEvent:
				if e.Err != nil {
					return e.Err
				}
				return nil
			}
		}
	}
}

func loadIdentity(cfg rtcore.TLSConfig) (tls.Certificate, error) {
	if cfg.DTLSCert != "" && cfg.DTLSKey != "" {
		return dtls.LoadCertificate(cfg.DTLSCert, cfg.DTLSKey)
	}
	return dtls.GenerateCertificate()
}

// buildMediaAgent assembles the demo pipeline: an Annex-B file plays the
// camera, a passthrough "encoder" forwards its access units, and decoded
// frames go to a file sink. Real deployments swap in capture and codec
// backends here.
func buildMediaAgent(cfg rtcore.MediaConfig) (*rtcore.MediaAgent, error) {
	opts := rtcore.MediaAgentOptions{
		Decoder: discardDecoder{},
	}
	if flagInput != "" {
		source, err := media.OpenSource("h264:" + flagInput)
		if err != nil {
			return nil, err
		}
		h264, ok := source.(media.H264Source)
		if !ok {
			source.Close()
			return nil, fmt.Errorf("%s is not an H.264 source", flagInput)
		}
		opts.Camera = &fileCamera{
			src:      h264,
			interval: time.Second / time.Duration(cfg.FPS),
		}
		opts.Encoder = &passthroughEncoder{}
	}
	return rtcore.NewMediaAgent(cfg, opts), nil
}

// fileCamera replays an Annex-B file at the configured frame rate,
// producing one NALU per "frame".
type fileCamera struct {
	src      media.H264Source
	interval time.Duration
	last     time.Time
}

func (c *fileCamera) ReadFrame() ([]byte, error) {
	if !c.last.IsZero() {
		if d := c.interval - time.Since(c.last); d > 0 {
			time.Sleep(d)
		}
	}
	c.last = time.Now()

	nalu, err := c.src.ReadNALU()
	if err == nil && len(nalu) == 0 {
		// Scanner exhausted without error means end of file.
		return nil, io.EOF
	}
	return nalu, err
}

func (c *fileCamera) Close() error { return c.src.Close() }

// passthroughEncoder treats the camera's output as already-encoded H.264.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(frame []byte, force bool) ([]byte, error) {
	// Re-add the start code stripped by the NALU reader.
	out := make([]byte, 0, 4+len(frame))
	out = append(out, 0, 0, 0, 1)
	return append(out, frame...), nil
}

func (passthroughEncoder) RequestKeyframe()                         {}
func (passthroughEncoder) SetConfig(media.VideoEncoderConfig) error { return nil }
func (passthroughEncoder) Close() error                             { return nil }

// discardDecoder drops inbound frames; the demo has no renderer.
type discardDecoder struct{}

func (discardDecoder) Decode(annexb []byte) ([]byte, error) { return nil, nil }
func (discardDecoder) Close() error                         { return nil }
