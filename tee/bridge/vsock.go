// Package bridge implements the host<->enclave VSOCK transport: pushing
// the secrets file in once at startup, forwarding inbound TCP to the
// enclave's VSOCK-bound service ports, and running the outbound proxy
// the enclave uses for all network access it cannot originate itself.
package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// ParentCID is the CID nitro-cli assigns to the host from inside an
// enclave; it is also the conventional CID used to dial the host from
// any VSOCK peer.
const ParentCID = 3

// SecretsPort is the well-known port the host pushes the secrets file
// to, once, at enclave startup.
const SecretsPort = 7777

// DefaultConnectTimeout and DefaultReadTimeout bound the outbound proxy,
// per the framing contract in SPEC_FULL.md: connect 5s, read 30s.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// writeFrame writes a u32 big-endian length prefix followed by data.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("bridge: write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("bridge: write frame body: %w", err)
	}
	return nil
}

// readFrame reads a u32 big-endian length prefix followed by that many
// bytes.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("bridge: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("bridge: read frame body: %w", err)
	}
	return buf, nil
}

// PushSecrets dials the enclave's secrets port once and writes payload
// as a single length-prefixed frame. Called by the host at startup
// before forwarding any other traffic.
func PushSecrets(cid uint32, payload []byte) error {
	conn, err := vsock.Dial(cid, SecretsPort, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial secrets port: %w", err)
	}
	defer conn.Close()

	if err := writeFrame(conn, payload); err != nil {
		return fmt.Errorf("bridge: push secrets: %w", err)
	}
	return nil
}

// ReceiveSecrets accepts exactly one connection on the enclave's
// secrets port and returns the pushed payload. It is called once during
// enclave boot, before the signing service starts accepting requests.
func ReceiveSecrets(ctx context.Context) ([]byte, error) {
	l, err := vsock.Listen(SecretsPort, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen secrets port: %w", err)
	}
	defer l.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan acceptResult, 1)
	go func() {
		conn, err := l.Accept()
		resCh <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, fmt.Errorf("bridge: accept secrets connection: %w", res.err)
		}
		defer res.conn.Close()
		return readFrame(res.conn)
	}
}

// ForwardTCP accepts TCP connections on listenAddr and relays each one,
// byte for byte in both directions, to a fresh VSOCK stream dialed to
// (cid, vsockPort). Used by the host to expose the enclave's public
// service port and, optionally, additional loopback-only ports.
func ForwardTCP(ctx context.Context, listenAddr string, cid uint32, vsockPort uint32) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", listenAddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		tcpConn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge: accept on %s: %w", listenAddr, err)
		}
		go forwardOne(tcpConn, cid, vsockPort)
	}
}

func forwardOne(tcpConn net.Conn, cid uint32, vsockPort uint32) {
	defer tcpConn.Close()

	vConn, err := vsock.Dial(cid, vsockPort, nil)
	if err != nil {
		return
	}
	defer vConn.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(vConn, tcpConn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(tcpConn, vConn)
		done <- struct{}{}
	}()
	<-done
}
