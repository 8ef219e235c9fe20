// Package transport carries request/reply datagrams between greehp and a device.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"go.uber.org/zap"
)

// DefaultTimeout is how long Receive waits for a reply
const DefaultTimeout = 5 * time.Second

// Transport is one open datagram channel to a single device
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to host
type Dialer interface {
	Dial(ctx context.Context, host string) (Transport, error)
}

// DialFunc adapts a function to the Dialer interface
type DialFunc func(ctx context.Context, host string) (Transport, error)

// Dial calls f
func (f DialFunc) Dial(ctx context.Context, host string) (Transport, error) {
	return f(ctx, host)
}

// UDPDialer opens UDP transports. Zero RemotePort, Timeout and BufferSize fall
// back to the protocol defaults; a zero LocalPort binds an ephemeral port.
type UDPDialer struct {
	// LocalPort is the port the local socket binds to; the device replies to it
	LocalPort int

	// RemotePort is the device port
	RemotePort int

	// Timeout bounds each Receive
	Timeout time.Duration

	// BufferSize is the receive buffer; longer datagrams are truncated
	BufferSize int
}

// NewUDPDialer returns a dialer with the protocol defaults
func NewUDPDialer() *UDPDialer {
	return &UDPDialer{
		LocalPort:  protocol.DefaultPort,
		RemotePort: protocol.DefaultPort,
		Timeout:    DefaultTimeout,
		BufferSize: protocol.MaxDatagramSize,
	}
}

func (d *UDPDialer) withDefaults() UDPDialer {
	opts := *d
	if opts.RemotePort == 0 {
		opts.RemotePort = protocol.DefaultPort
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = protocol.MaxDatagramSize
	}
	return opts
}

// Dial binds the local socket and resolves the device address
func (d *UDPDialer) Dial(ctx context.Context, host string) (Transport, error) {
	opts := d.withDefaults()

	remote, err := resolveUDPAddr(ctx, host, opts.RemotePort)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: opts.LocalPort})
	if err != nil {
		return nil, protocol.NewTransportError("dial", fmt.Sprintf("failed to bind UDP port %d", opts.LocalPort), err)
	}

	logging.Debug("UDP transport opened",
		zap.String("local_addr", conn.LocalAddr().String()),
		zap.String("remote_addr", remote.String()),
	)

	return &UDPTransport{
		conn:    conn,
		remote:  remote,
		timeout: opts.Timeout,
		bufSize: opts.BufferSize,
	}, nil
}

// resolveUDPAddr resolves host to its first IPv4 address. host may carry
// its own port ("192.168.1.50:7001"); otherwise port is used.
func resolveUDPAddr(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	if h, p, err := net.SplitHostPort(host); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, protocol.NewTransportError("dial", fmt.Sprintf("invalid port in %q", host), err)
		}
		host, port = h, n
	}

	var resolver net.Resolver
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, protocol.NewTransportError("dial", fmt.Sprintf("failed to resolve %s", host), err)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return &net.UDPAddr{IP: v4, Port: port}, nil
		}
	}
	return nil, protocol.NewTransportError("dial", fmt.Sprintf("%s has no IPv4 address", host), nil)
}

// UDPTransport is a Transport over one bound UDP socket
type UDPTransport struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	timeout time.Duration
	bufSize int
}

// RemoteAddr returns the device address
func (t *UDPTransport) RemoteAddr() *net.UDPAddr {
	return t.remote
}

// LocalAddr returns the bound local address
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to the device
func (t *UDPTransport) Send(_ context.Context, data []byte) error {
	if _, err := t.conn.WriteToUDP(data, t.remote); err != nil {
		return protocol.NewTransportError("send", fmt.Sprintf("failed to send to %s", t.remote), err)
	}
	logging.LogDatagram(t.remote.String(), "sent", data)
	return nil
}

// Receive waits for one datagram from the device. Datagrams from other
// sources are dropped. The wait is bounded by the configured timeout only;
// ctx is not observed.
func (t *UDPTransport) Receive(_ context.Context) ([]byte, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, protocol.NewTransportError("receive", "failed to set read deadline", err)
	}

	buf := make([]byte, t.bufSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, protocol.NewTransportError("receive", fmt.Sprintf("no reply from %s within %s", t.remote, t.timeout), err)
			}
			return nil, protocol.NewTransportError("receive", "failed to read datagram", err)
		}
		if !from.IP.Equal(t.remote.IP) {
			logging.Debug("Dropping datagram from unexpected source",
				zap.String("from", from.String()),
				zap.String("expected", t.remote.String()),
			)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		logging.LogDatagram(from.String(), "received", data)
		return data, nil
	}
}

// Close releases the socket
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}
