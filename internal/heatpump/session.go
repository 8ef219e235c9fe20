package heatpump

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/transport"
	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries is the number of attempts per operation
	DefaultMaxRetries = 3

	// DefaultMaxRetryDelay caps the exponential backoff between attempts
	DefaultMaxRetryDelay = 10 * time.Second
)

// outcome is the terminal result of one retry episode
type outcome int

const (
	// outcomeSuccess: an attempt completed its exchange
	outcomeSuccess outcome = iota
	// outcomeInterrupted: ctx ended the episode between attempts, within budget
	outcomeInterrupted
	// outcomeExhausted: every attempt failed and the session was fully reset
	outcomeExhausted
)

// Session owns the transport and handshake state for one heat pump.
// All public operations are safe for concurrent use; each runs as one
// critical section covering ensure-bound and the exchange.
type Session struct {
	// Dialer opens the transport for each bind attempt
	Dialer transport.Dialer

	// MaxRetries is the number of attempts per operation
	MaxRetries int

	// MaxRetryDelay caps the backoff between attempts
	MaxRetryDelay time.Duration

	// Sleep waits between attempts; it returns early with ctx's error when ctx is done
	Sleep func(ctx context.Context, d time.Duration) error

	host      string
	wellKnown *protocol.Cipher

	// opMu serializes operations; it guards tr, cipher and handshake progress
	opMu   sync.Mutex
	tr     transport.Transport
	cipher *protocol.Cipher
	hs     *fsm.FSM

	// mu guards the observable state below
	mu           sync.RWMutex
	mac          string
	rebinding    bool
	retryCount   int
	currentData  protocol.FieldMap
	lastGoodData protocol.FieldMap
	lastUpdate   time.Time
	lastErr      error
}

// NewSession creates an unbound session for the device at host.
// No network I/O happens until the first operation.
func NewSession(host string, dialer transport.Dialer) *Session {
	wk, err := protocol.NewCipher(protocol.WellKnownKey)
	if err != nil {
		// the well-known key is a 16-byte constant
		panic(err)
	}
	if dialer == nil {
		dialer = transport.NewUDPDialer()
	}
	return &Session{
		Dialer:        dialer,
		MaxRetries:    DefaultMaxRetries,
		MaxRetryDelay: DefaultMaxRetryDelay,
		Sleep:         sleepContext,
		host:          host,
		wellKnown:     wk,
		hs:            newHandshakeFSM(host),
		currentData:   protocol.FieldMap{},
		lastGoodData:  protocol.FieldMap{},
	}
}

// SetRetry configures retry behavior
func (s *Session) SetRetry(maxRetries int, maxRetryDelay time.Duration) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxRetries = maxRetries
	s.MaxRetryDelay = maxRetryDelay
}

// Update polls the device status.
//
// On success the fresh mapping is returned and cached. When every attempt
// fails an empty map is returned and the cache is kept for the next call.
// When ctx ends the episode early while recovery is still within budget,
// the last good mapping is returned instead.
func (s *Session) Update(ctx context.Context) protocol.FieldMap {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var fresh protocol.FieldMap
	result := s.run(ctx, protocol.TypeStatus, func(ctx context.Context) error {
		m, err := s.fetchStatus(ctx)
		if err != nil {
			return err
		}
		fresh = m
		return nil
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	switch result {
	case outcomeSuccess:
		s.currentData = fresh
		s.lastGoodData = fresh
		s.lastUpdate = time.Now()
		return fresh.Clone()
	case outcomeInterrupted:
		if s.rebinding && s.retryCount < s.MaxRetries {
			logging.Debug("Serving cached status during recovery",
				zap.String("host", s.host),
				zap.Int("retry_count", s.retryCount),
				zap.Int("cached_fields", len(s.lastGoodData)),
			)
			return s.lastGoodData.Clone()
		}
		return s.currentData.Clone()
	default:
		s.currentData = protocol.FieldMap{}
		return protocol.FieldMap{}
	}
}

// SetPower switches the heat pump on or off
func (s *Session) SetPower(ctx context.Context, on bool) bool {
	v := 0
	if on {
		v = 1
	}
	return s.command(ctx, protocol.FieldPower, v)
}

// SetTemperature writes one of the water set points. Unknown kinds are
// rejected without network I/O; the value itself is forwarded unchecked.
func (s *Session) SetTemperature(ctx context.Context, kind protocol.TemperatureKind, value int) bool {
	field, ok := kind.Field()
	if !ok {
		logging.Error("Unknown temperature type",
			zap.String("host", s.host),
			zap.String("kind", string(kind)),
		)
		return false
	}
	return s.command(ctx, field, value)
}

// SetMode writes the operating mode (1-5). Out of range modes are rejected
// without network I/O.
func (s *Session) SetMode(ctx context.Context, mode int) bool {
	if !protocol.Mode(mode).Valid() {
		logging.Error("Invalid mode",
			zap.String("host", s.host),
			zap.Int("mode", mode),
		)
		return false
	}
	return s.command(ctx, protocol.FieldMode, mode)
}

func (s *Session) command(ctx context.Context, field string, value int) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	result := s.run(ctx, protocol.TypeCmd+" "+field, func(ctx context.Context) error {
		return s.sendCommand(ctx, field, value)
	})
	return result == outcomeSuccess
}

// run is the shared retry loop. Each attempt ensures the session is bound
// and performs exactly one exchange. Callers hold opMu.
func (s *Session) run(ctx context.Context, op string, exchange func(context.Context) error) outcome {
	maxRetries := s.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			s.recordError(err)
			return outcomeInterrupted
		}

		// an attempt in flight runs to completion or to its datagram timeout
		attemptCtx := context.WithoutCancel(ctx)
		err := s.ensureBound(attemptCtx)
		if err == nil {
			err = exchange(attemptCtx)
		}
		logging.LogAttempt(s.host, op, attempt, maxRetries, err)

		if err == nil {
			s.mu.Lock()
			s.rebinding = false
			s.retryCount = 0
			s.lastErr = nil
			s.mu.Unlock()
			return outcomeSuccess
		}

		lastErr = err
		s.teardown(false)
		s.mu.Lock()
		s.rebinding = true
		s.retryCount = attempt + 1
		s.lastErr = err
		s.mu.Unlock()

		if attempt+1 < maxRetries {
			delay := backoffDelay(attempt, s.MaxRetryDelay)
			logging.LogBackoff(s.host, op, delay)
			if err := s.Sleep(ctx, delay); err != nil {
				return outcomeInterrupted
			}
		}
	}

	s.teardown(true)
	logging.Error("Heat pump unreachable, retries exhausted",
		zap.String("host", s.host),
		zap.String("op", op),
		zap.Int("attempts", maxRetries),
		zap.Error(lastErr),
	)
	return outcomeExhausted
}

// teardown closes the transport and drops the session key. A full
// teardown also forgets the device MAC.
func (s *Session) teardown(full bool) {
	s.closeTransport()
	s.cipher = nil
	if !s.hs.Is(StateUnbound) {
		_ = s.transition(context.Background(), eventReset)
	}
	if full {
		s.setMAC("")
	}
}

func (s *Session) closeTransport() {
	if s.tr == nil {
		return
	}
	if err := s.tr.Close(); err != nil {
		logging.Debug("Failed to close transport", zap.String("host", s.host), zap.Error(err))
	}
	s.tr = nil
}

func (s *Session) setMAC(mac string) {
	s.mu.Lock()
	s.mac = mac
	s.mu.Unlock()
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Close releases the socket and clears all session state
func (s *Session) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if s.tr != nil {
		err = s.tr.Close()
		s.tr = nil
	}
	s.teardown(true)
	return err
}

// Host returns the device address this session talks to
func (s *Session) Host() string {
	return s.host
}

// MAC returns the device MAC learned during discovery, or "" before discovery
func (s *Session) MAC() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mac
}

// Bound reports whether the session holds a session key
func (s *Session) Bound() bool {
	return s.hs.Is(StateBound)
}

// HandshakeState returns the current handshake state name
func (s *Session) HandshakeState() string {
	return s.hs.Current()
}

// Rebinding reports whether a recovery episode is in progress
func (s *Session) Rebinding() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rebinding
}

// RetryCount returns the attempts consumed by the current recovery episode
func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// Recovering reports whether a recovery episode is in progress and still
// has attempts left in its budget
func (s *Session) Recovering() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rebinding && s.retryCount < s.MaxRetries
}

// CurrentData returns a copy of the mapping from the last terminal Update outcome
func (s *Session) CurrentData() protocol.FieldMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentData.Clone()
}

// LastGoodData returns a copy of the most recent successfully decoded status
func (s *Session) LastGoodData() protocol.FieldMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastGoodData.Clone()
}

// LastUpdate returns when status was last fetched successfully
func (s *Session) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// LastError returns the cause of the most recent failed attempt, or nil
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// backoffDelay returns min(2^attempt seconds, limit)
func backoffDelay(attempt int, limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = DefaultMaxRetryDelay
	}
	if attempt >= 30 {
		return limit
	}
	d := time.Duration(1<<attempt) * time.Second
	if d > limit {
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
