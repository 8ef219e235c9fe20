package poller

import (
	"context"
	"sync"
	"time"

	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultPollTimeout bounds one poll. A device that stops answering uses
// three 5 s receive timeouts and 3 s of backoff before it is reported
// unavailable, which fits. A slower episode is cut off and served from the
// last good data.
const DefaultPollTimeout = 30 * time.Second

// Device is the part of a heat pump session the coordinator drives.
// *heatpump.Session satisfies it.
type Device interface {
	Host() string
	MAC() string
	Update(ctx context.Context) protocol.FieldMap
	Rebinding() bool
	RetryCount() int
	Recovering() bool
	SetPower(ctx context.Context, on bool) bool
	SetTemperature(ctx context.Context, kind protocol.TemperatureKind, value int) bool
	SetMode(ctx context.Context, mode int) bool
}

// Snapshot is the published result of one poll
type Snapshot struct {
	Device     string             `json:"device"`
	Host       string             `json:"host"`
	MAC        string             `json:"mac,omitempty"`
	Data       protocol.FieldMap  `json:"data"`
	Readings   telemetry.Readings `json:"readings"`
	Available  bool               `json:"available"`
	Recovering bool               `json:"recovering"`
	Rebinding  bool               `json:"rebinding"`
	RetryCount int                `json:"retry_count"`
	At         time.Time          `json:"at"`
}

// FieldAvailable reports whether a single field should be shown as available.
// During a recovery episode that is still within budget a field is available
// when its value is known. Otherwise the last poll must also have succeeded.
func (s Snapshot) FieldAvailable(name string) bool {
	_, known := s.Data[name]
	if s.Recovering {
		return known
	}
	return len(s.Data) > 0 && known
}

// ReadingAvailable applies the FieldAvailable rule to a derived temperature
func (s Snapshot) ReadingAvailable(q telemetry.Quantity) bool {
	_, known := s.Readings.Get(q)
	if s.Recovering {
		return known
	}
	return len(s.Data) > 0 && known
}

// Coordinator polls one device on a fixed interval and fans snapshots out
// to subscribers. Commands go through the coordinator so that a successful
// write is followed by a fresh poll.
type Coordinator struct {
	name        string
	dev         Device
	interval    time.Duration
	pollTimeout time.Duration

	refresh chan struct{}

	mu        sync.Mutex
	subs      map[int]chan Snapshot
	nextSubID int
	latest    Snapshot
	hasLatest bool
	onSuccess []func(Snapshot)
}

// New creates a coordinator for the device registered under name
func New(name string, dev Device, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Coordinator{
		name:        name,
		dev:         dev,
		interval:    interval,
		pollTimeout: DefaultPollTimeout,
		refresh:     make(chan struct{}, 1),
		subs:        make(map[int]chan Snapshot),
	}
}

// Name returns the device name this coordinator publishes under
func (c *Coordinator) Name() string {
	return c.name
}

// Interval returns the polling interval
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// SetPollTimeout changes the deadline given to each poll. Call before Run.
func (c *Coordinator) SetPollTimeout(d time.Duration) {
	if d > 0 {
		c.pollTimeout = d
	}
}

// OnSuccess registers fn to run after every poll that returned data.
// Callbacks run on the polling goroutine and must not block.
func (c *Coordinator) OnSuccess(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSuccess = append(c.onSuccess, fn)
}

// Run polls immediately and then on every tick or refresh request until ctx is done
func (c *Coordinator) Run(ctx context.Context) error {
	logging.Info("Polling heat pump",
		zap.String("device", c.name),
		zap.String("host", c.dev.Host()),
		zap.Duration("interval", c.interval),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Poll(ctx)
		case <-c.refresh:
			c.Poll(ctx)
			ticker.Reset(c.interval)
		}
	}
}

// Poll performs one update under the poll deadline and publishes the
// resulting snapshot
func (c *Coordinator) Poll(ctx context.Context) Snapshot {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	data := c.dev.Update(pollCtx)
	cancel()
	snap := Snapshot{
		Device:     c.name,
		Host:       c.dev.Host(),
		MAC:        c.dev.MAC(),
		Data:       data,
		Readings:   telemetry.Derive(data),
		Recovering: c.dev.Recovering(),
		Rebinding:  c.dev.Rebinding(),
		RetryCount: c.dev.RetryCount(),
		At:         time.Now(),
	}
	snap.Available = snap.Recovering || len(data) > 0

	if len(data) == 0 && !snap.Recovering {
		logging.Warn("Heat pump unavailable", zap.String("device", c.name), zap.String("host", snap.Host))
	} else {
		logging.Debug("Status polled",
			zap.String("device", c.name),
			zap.Int("fields", len(data)),
			zap.Bool("rebinding", snap.Rebinding),
		)
	}

	c.publish(snap)
	return snap
}

func (c *Coordinator) publish(snap Snapshot) {
	c.mu.Lock()
	c.latest = snap
	c.hasLatest = true
	subs := make([]chan Snapshot, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	var callbacks []func(Snapshot)
	if len(snap.Data) > 0 {
		callbacks = append(callbacks, c.onSuccess...)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		offer(ch, snap)
	}
	for _, fn := range callbacks {
		fn(snap)
	}
}

// offer delivers snap without blocking, replacing a stale pending snapshot
func offer(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel receiving every published snapshot and a
// function that cancels the subscription. Slow subscribers only see the
// most recent snapshot.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Snapshot, 1)
	c.subs[id] = ch
	if c.hasLatest {
		ch <- c.latest
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Latest returns the most recent snapshot, if any poll has completed
func (c *Coordinator) Latest() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.hasLatest
}

// RequestRefresh asks Run for an out-of-band poll. Requests coalesce.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// SetPower switches the device and requests a refresh on success
func (c *Coordinator) SetPower(ctx context.Context, on bool) bool {
	return c.afterCommand("power", c.dev.SetPower(ctx, on))
}

// SetTemperature writes a set point and requests a refresh on success
func (c *Coordinator) SetTemperature(ctx context.Context, kind protocol.TemperatureKind, value int) bool {
	return c.afterCommand("temperature", c.dev.SetTemperature(ctx, kind, value))
}

// SetMode writes the operating mode and requests a refresh on success
func (c *Coordinator) SetMode(ctx context.Context, mode int) bool {
	return c.afterCommand("mode", c.dev.SetMode(ctx, mode))
}

func (c *Coordinator) afterCommand(what string, ok bool) bool {
	if ok {
		c.RequestRefresh()
	} else {
		logging.Warn("Command failed", zap.String("device", c.name), zap.String("command", what))
	}
	return ok
}
