// Package transport binds the OMT protocol to QUIC: ALPN, port selection,
// application error codes, and the listener/dialer configuration shared by
// sender and receiver.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/openmediatransport/omt/certs"
)

// ALPN is the protocol identifier negotiated during the TLS handshake.
const ALPN = "omt"

// Port assignments. A sender with no explicit port scans the dynamic range.
const (
	DefaultPort = 6400
	MaxPort     = 6600
)

// Application error codes: "OMT" for stream aborts, "OMT\0" for connection
// close.
const (
	StreamErrorCode quic.StreamErrorCode      = 0x4F4D54
	ConnCloseCode   quic.ApplicationErrorCode = 0x4F4D5400
)

// receive windows are sized for uncompressed HD video frames, which can be
// several megabytes per message.
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:             30 * time.Second,
		Allow0RTT:                  true,
		MaxStreamReceiveWindow:     32 << 20,
		MaxConnectionReceiveWindow: 64 << 20,
		MaxIncomingStreams:         256,
		KeepAlivePeriod:            10 * time.Second,
	}
}

// Listen opens a QUIC listener for the sender. Port 0 scans the dynamic
// range 6400–6600 and binds the first free port; the bound port is returned
// alongside the listener.
func Listen(port int, cert *certs.CertInfo) (*quic.Listener, int, error) {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}

	if port != 0 {
		l, err := quic.ListenAddr(fmt.Sprintf(":%d", port), tlsConf, quicConfig())
		if err != nil {
			return nil, 0, fmt.Errorf("transport: listen on %d: %w", port, err)
		}
		return l, port, nil
	}

	for p := DefaultPort; p <= MaxPort; p++ {
		l, err := quic.ListenAddr(fmt.Sprintf(":%d", p), tlsConf, quicConfig())
		if err == nil {
			return l, p, nil
		}
	}
	return nil, 0, fmt.Errorf("transport: no free port in %d-%d", DefaultPort, MaxPort)
}

// Dial connects to a sender. A nil tlsConf accepts the sender's self-signed
// certificate; supply a pinning config to verify the fingerprint instead.
func Dial(ctx context.Context, address string, tlsConf *tls.Config) (quic.Connection, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.NextProtos = []string{ALPN}
	tlsConf.MinVersion = tls.VersionTLS13

	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	return conn, nil
}
