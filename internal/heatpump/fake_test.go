package heatpump

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/transport"
	"github.com/stretchr/testify/require"
)

const (
	fakeMAC = "c8f742aabbcc"
	fakeKey = "Zx7Yw5Vu3Ts1Rq9P"
)

type sentCommand struct {
	Field string
	Value int
}

// fakeDevice is an in-memory heat pump speaking the LAN protocol
type fakeDevice struct {
	mu sync.Mutex

	mac string
	key string
	dat any

	// down drops every request; dropNext drops the next n requests
	down     bool
	dropNext int
	// bindWithoutKey answers bind requests with a reply missing the key
	bindWithoutKey bool
	// onRequest runs before each request is handled
	onRequest func()

	dials    int
	closes   int
	scans    int
	binds    int
	statuses int
	commands []sentCommand
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		mac: fakeMAC,
		key: fakeKey,
		dat: map[string]any{"Pow": 1, "Mod": 1, "AllInWatTemHi": 125, "AllInWatTemLo": 3},
	}
}

func (d *fakeDevice) Dial(_ context.Context, _ string) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return &fakeConn{d: d}, nil
}

func (d *fakeDevice) setDown(down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down = down
}

func (d *fakeDevice) counts() (dials, scans, binds int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.scans, d.binds
}

func (d *fakeDevice) sentCommands() []sentCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentCommand(nil), d.commands...)
}

// handle returns the reply to one request, or nil to drop it
func (d *fakeDevice) handle(data []byte) []byte {
	d.mu.Lock()
	hook := d.onRequest
	d.mu.Unlock()
	if hook != nil {
		hook()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.down {
		return nil
	}
	if d.dropNext > 0 {
		d.dropNext--
		return nil
	}

	var env struct {
		T    string `json:"t"`
		I    int    `json:"i"`
		Pack string `json:"pack"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}

	if env.T == protocol.TypeScan {
		d.scans++
		return d.reply(protocol.WellKnownKey, map[string]any{"t": "dev", "mac": d.mac, "name": "fake", "ver": "V1.0"})
	}

	if env.I == 1 {
		var bind protocol.BindPack
		if err := protocol.DecodePack(env.Pack, protocol.WellKnownKey, &bind); err != nil {
			return nil
		}
		d.binds++
		if d.bindWithoutKey {
			return d.reply(protocol.WellKnownKey, map[string]any{"t": "bindok", "mac": d.mac})
		}
		return d.reply(protocol.WellKnownKey, map[string]any{"t": "bindok", "mac": d.mac, "key": d.key})
	}

	var pack struct {
		T    string   `json:"t"`
		Cols []string `json:"cols"`
		Opt  []string `json:"opt"`
		P    []int    `json:"p"`
	}
	if err := protocol.DecodePack(env.Pack, d.key, &pack); err != nil {
		return nil
	}

	switch pack.T {
	case protocol.TypeStatus:
		d.statuses++
		return d.reply(d.key, map[string]any{"t": "dat", "mac": d.mac, "r": 200, "cols": pack.Cols, "dat": d.dat})
	case protocol.TypeCmd:
		for i := range pack.Opt {
			d.commands = append(d.commands, sentCommand{Field: pack.Opt[i], Value: pack.P[i]})
		}
		return d.reply(d.key, map[string]any{"t": "res", "mac": d.mac, "r": 200, "opt": pack.Opt, "p": pack.P, "val": pack.P})
	}
	return nil
}

func (d *fakeDevice) reply(key string, pack any) []byte {
	enc, err := protocol.EncodePack(pack, key)
	if err != nil {
		panic(err)
	}
	b, _ := json.Marshal(map[string]any{"t": "pack", "i": 0, "uid": 0, "cid": d.mac, "tcid": "app", "pack": enc})
	return b
}

type fakeConn struct {
	d       *fakeDevice
	pending [][]byte
	closed  bool
}

func (c *fakeConn) Send(_ context.Context, data []byte) error {
	if c.closed {
		return protocol.NewTransportError("send", "closed", os.ErrClosed)
	}
	if r := c.d.handle(data); r != nil {
		c.pending = append(c.pending, r)
	}
	return nil
}

// Receive fails once ctx is done, like a transport that aborts its read
func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewTransportError("receive", "cancelled", err)
	}
	if len(c.pending) == 0 {
		return nil, protocol.NewTransportError("receive", "no reply", os.ErrDeadlineExceeded)
	}
	r := c.pending[0]
	c.pending = c.pending[1:]
	return r, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	c.d.mu.Lock()
	c.d.closes++
	c.d.mu.Unlock()
	return nil
}

// sleepRecorder replaces Session.Sleep and records requested delays
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	// interruptAfter makes the nth call (1-based) return context.Canceled
	interruptAfter int
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	if r.interruptAfter > 0 && len(r.delays) >= r.interruptAfter {
		return context.Canceled
	}
	return nil
}

func newTestSession(d *fakeDevice) (*Session, *sleepRecorder) {
	s := NewSession("192.0.2.10", d)
	rec := &sleepRecorder{}
	s.Sleep = rec.Sleep
	return s, rec
}

// serveUDP exposes d on a loopback UDP socket and returns its address
func serveUDP(t *testing.T, d *fakeDevice) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if r := d.handle(append([]byte(nil), buf[:n]...)); r != nil {
				_, _ = conn.WriteToUDP(r, from)
			}
		}
	}()
	return conn.LocalAddr().String()
}
