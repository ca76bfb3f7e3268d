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

// ProxyPort is the VSOCK port the enclave dials to reach the host's
// outbound proxy: the enclave cannot route packets itself, so every
// external HTTP/TLS call it makes is relayed through the host this way.
const ProxyPort = 8000

// proxyRequest is the header the enclave sends before the raw request
// bytes: a u16 host length, the host bytes, and a u16 port. The whole
// header+payload is wrapped in the standard u32-length frame.
func encodeProxyRequest(host string, port uint16, payload []byte) []byte {
	buf := make([]byte, 2+len(host)+2+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(host)))
	copy(buf[2:2+len(host)], host)
	binary.BigEndian.PutUint16(buf[2+len(host):4+len(host)], port)
	copy(buf[4+len(host):], payload)
	return buf
}

func decodeProxyRequest(buf []byte) (host string, port uint16, payload []byte, err error) {
	if len(buf) < 2 {
		return "", 0, nil, fmt.Errorf("bridge: proxy request too short")
	}
	hostLen := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+hostLen+2 {
		return "", 0, nil, fmt.Errorf("bridge: proxy request truncated host/port")
	}
	host = string(buf[2 : 2+hostLen])
	port = binary.BigEndian.Uint16(buf[2+hostLen : 4+hostLen])
	payload = buf[4+hostLen:]
	return host, port, payload, nil
}

// RunOutboundProxy listens on the host's VSOCK proxy port and services
// one request per accepted stream: decode (host, port, request_bytes),
// dial the upstream TCP connection, write the request, read the
// response until EOF or timeout, frame it back, and close. Closing the
// enclave's VSOCK stream cancels the relay and the host closes its
// upstream connection in turn.
func RunOutboundProxy(ctx context.Context) error {
	ln, err := vsock.Listen(ProxyPort, nil)
	if err != nil {
		return fmt.Errorf("bridge: listen proxy port: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge: accept proxy stream: %w", err)
		}
		go serveProxyStream(ctx, conn)
	}
}

func serveProxyStream(ctx context.Context, enclaveConn net.Conn) {
	defer enclaveConn.Close()

	reqFrame, err := readFrame(enclaveConn)
	if err != nil {
		return
	}
	host, port, payload, err := decodeProxyRequest(reqFrame)
	if err != nil {
		return
	}

	dialer := net.Dialer{Timeout: DefaultConnectTimeout}
	upstream, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		writeFrame(enclaveConn, nil)
		return
	}
	defer upstream.Close()

	// The enclave sends nothing after its request frame, so this read
	// returns only once the enclave stream is closed; closing upstream
	// then ends the relay below.
	go func() {
		var b [1]byte
		enclaveConn.Read(b[:])
		upstream.Close()
	}()

	if _, err := upstream.Write(payload); err != nil {
		writeFrame(enclaveConn, nil)
		return
	}

	upstream.SetReadDeadline(time.Now().Add(DefaultReadTimeout))
	response, err := io.ReadAll(upstream)
	if err != nil && len(response) == 0 {
		writeFrame(enclaveConn, nil)
		return
	}
	writeFrame(enclaveConn, response)
}

// DialOutbound is called from inside the enclave to relay one request
// through the host's outbound proxy and return the response.
func DialOutbound(ctx context.Context, host string, port uint16, request []byte) ([]byte, error) {
	conn, err := vsock.Dial(ParentCID, ProxyPort, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial outbound proxy: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, encodeProxyRequest(host, port, request)); err != nil {
		return nil, err
	}
	return readFrame(conn)
}
