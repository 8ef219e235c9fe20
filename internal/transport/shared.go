package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"go.uber.org/zap"
)

// routeQueue is how many unread replies one shared transport buffers
const routeQueue = 4

// SharedDialer opens transports to several devices over one local UDP
// socket. Every device replies to the same local port, so a reply is routed
// to the transport dialed for its source address.
//
// The socket is bound on the first Dial and released when the last
// transport is closed. At most one open transport per device address.
type SharedDialer struct {
	UDPDialer

	mu     sync.Mutex
	conn   *net.UDPConn
	routes map[string]*sharedTransport
}

// NewSharedDialer returns a shared dialer with the protocol defaults
func NewSharedDialer() *SharedDialer {
	return &SharedDialer{UDPDialer: *NewUDPDialer()}
}

// Dial registers a route for host, binding the shared socket if needed
func (d *SharedDialer) Dial(ctx context.Context, host string) (Transport, error) {
	opts := d.UDPDialer.withDefaults()

	remote, err := resolveUDPAddr(ctx, host, opts.RemotePort)
	if err != nil {
		return nil, err
	}
	key := remote.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, busy := d.routes[key]; busy {
		return nil, protocol.NewTransportError("dial", fmt.Sprintf("a transport to %s is already open", key), nil)
	}
	if d.conn == nil {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: opts.LocalPort})
		if err != nil {
			return nil, protocol.NewTransportError("dial", fmt.Sprintf("failed to bind UDP port %d", opts.LocalPort), err)
		}
		d.conn = conn
		d.routes = make(map[string]*sharedTransport)
		logging.Debug("Shared UDP socket opened", zap.String("local_addr", conn.LocalAddr().String()))
		go d.readLoop(conn, opts.BufferSize)
	}

	t := &sharedTransport{
		dialer:  d,
		conn:    d.conn,
		remote:  remote,
		key:     key,
		timeout: opts.Timeout,
		replies: make(chan []byte, routeQueue),
		closed:  make(chan struct{}),
	}
	d.routes[key] = t
	logging.Debug("Shared UDP route opened", zap.String("remote_addr", key), zap.Int("routes", len(d.routes)))
	return t, nil
}

// LocalAddr returns the bound shared address, or nil when no transport is open
func (d *SharedDialer) LocalAddr() *net.UDPAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// readLoop delivers datagrams from conn until it is closed
func (d *SharedDialer) readLoop(conn *net.UDPConn, bufSize int) {
	buf := make([]byte, bufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Debug("Shared UDP read failed", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		d.route(from, data)
	}
}

// route hands data to the transport for from. An exact address match wins;
// otherwise a single route to the same IP takes it.
func (d *SharedDialer) route(from *net.UDPAddr, data []byte) {
	d.mu.Lock()
	t := d.routes[from.String()]
	if t == nil {
		var match *sharedTransport
		matches := 0
		for _, r := range d.routes {
			if r.remote.IP.Equal(from.IP) {
				match = r
				matches++
			}
		}
		if matches == 1 {
			t = match
		}
	}
	d.mu.Unlock()

	if t == nil {
		logging.Debug("Dropping datagram from unexpected source", zap.String("from", from.String()))
		return
	}
	logging.LogDatagram(from.String(), "received", data)
	select {
	case t.replies <- data:
	default:
		logging.Debug("Dropping datagram, reply queue full", zap.String("from", from.String()))
	}
}

// release removes t's route and closes the socket after the last route
func (d *SharedDialer) release(t *sharedTransport) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.routes[t.key] == t {
		delete(d.routes, t.key)
	}
	if len(d.routes) > 0 || d.conn == nil || d.conn != t.conn {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	logging.Debug("Shared UDP socket closed")
	return err
}

// sharedTransport is one device's view of a SharedDialer socket
type sharedTransport struct {
	dialer  *SharedDialer
	conn    *net.UDPConn
	remote  *net.UDPAddr
	key     string
	timeout time.Duration

	replies   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// Send writes one datagram to the device through the shared socket
func (t *sharedTransport) Send(_ context.Context, data []byte) error {
	select {
	case <-t.closed:
		return protocol.NewTransportError("send", "transport is closed", net.ErrClosed)
	default:
	}
	if _, err := t.conn.WriteToUDP(data, t.remote); err != nil {
		return protocol.NewTransportError("send", fmt.Sprintf("failed to send to %s", t.remote), err)
	}
	logging.LogDatagram(t.remote.String(), "sent", data)
	return nil
}

// Receive waits for the next reply routed to this transport. The wait is
// bounded by the configured timeout only; ctx is not observed.
func (t *sharedTransport) Receive(_ context.Context) ([]byte, error) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case data := <-t.replies:
		return data, nil
	case <-t.closed:
		return nil, protocol.NewTransportError("receive", "transport is closed", net.ErrClosed)
	case <-timer.C:
		return nil, protocol.NewTransportError("receive",
			fmt.Sprintf("no reply from %s within %s", t.remote, t.timeout), os.ErrDeadlineExceeded)
	}
}

// Close drops the route; the shared socket closes with its last route
func (t *sharedTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.dialer.release(t)
	})
	return err
}
