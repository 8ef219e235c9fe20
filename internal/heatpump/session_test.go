package heatpump

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	s := NewSession("192.168.1.50", nil)

	assert.Equal(t, "192.168.1.50", s.Host())
	assert.Equal(t, DefaultMaxRetries, s.MaxRetries)
	assert.Equal(t, DefaultMaxRetryDelay, s.MaxRetryDelay)
	assert.NotNil(t, s.Dialer)
	assert.False(t, s.Bound())
	assert.Equal(t, StateUnbound, s.HandshakeState())
	assert.Empty(t, s.MAC())
	assert.Empty(t, s.CurrentData())
	assert.Empty(t, s.LastGoodData())
}

func TestSession_UpdateEndToEnd(t *testing.T) {
	d := newFakeDevice()
	s, rec := newTestSession(d)

	got := s.Update(context.Background())

	want := protocol.FieldMap{
		"Pow":           json.Number("1"),
		"Mod":           json.Number("1"),
		"AllInWatTemHi": json.Number("125"),
		"AllInWatTemLo": json.Number("3"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, s.Bound())
	assert.Equal(t, StateBound, s.HandshakeState())
	assert.Equal(t, fakeMAC, s.MAC())
	assert.Equal(t, 0, s.RetryCount())
	assert.False(t, s.Rebinding())
	assert.NoError(t, s.LastError())
	assert.Empty(t, rec.delays)
	assert.False(t, s.LastUpdate().IsZero())

	// a second update reuses the binding
	s.Update(context.Background())
	dials, scans, binds := d.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, scans)
	assert.Equal(t, 1, binds)
	assert.Equal(t, 2, d.statuses)
}

func TestSession_UpdateArrayDat(t *testing.T) {
	d := newFakeDevice()
	d.dat = []any{0, 2, 18, 45}
	s, _ := newTestSession(d)

	got := s.Update(context.Background())

	want := protocol.FieldMap{
		"Pow":            json.Number("0"),
		"Mod":            json.Number("2"),
		"CoWatOutTemSet": json.Number("18"),
		"HeWatOutTemSet": json.Number("45"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Update() mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_RetryExhausted(t *testing.T) {
	d := newFakeDevice()
	d.down = true
	s, rec := newTestSession(d)

	got := s.Update(context.Background())

	assert.Empty(t, got)
	assert.NotNil(t, got, "exhausted update returns an empty map, not nil")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	dials, _, _ := d.counts()
	assert.Equal(t, 3, dials, "one transport per attempt")
	assert.Equal(t, 3, d.closes, "every transport is closed")

	assert.False(t, s.Bound())
	assert.Empty(t, s.MAC())
	assert.True(t, s.Rebinding())
	assert.Equal(t, 3, s.RetryCount())
	assert.True(t, protocol.IsHandshakeError(s.LastError()))
	assert.Empty(t, s.CurrentData())
}

func TestSession_RecoversWithinBudget(t *testing.T) {
	d := newFakeDevice()
	s, rec := newTestSession(d)
	require.NotEmpty(t, s.Update(context.Background()))

	// the next status request is lost, then the device answers again
	d.mu.Lock()
	d.dropNext = 1
	d.mu.Unlock()

	got := s.Update(context.Background())
	assert.Equal(t, json.Number("1"), got["Pow"])
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
	assert.False(t, s.Rebinding())
	assert.Equal(t, 0, s.RetryCount())
	assert.True(t, s.Bound())

	_, scans, binds := d.counts()
	assert.Equal(t, 2, scans, "failed exchange forces a rebind")
	assert.Equal(t, 2, binds)
}

func TestSession_DegradesToLastGoodData(t *testing.T) {
	d := newFakeDevice()
	s, rec := newTestSession(d)

	good := s.Update(context.Background())
	require.NotEmpty(t, good)

	// first attempt fails and the caller's context ends during backoff
	d.setDown(true)
	rec.interruptAfter = 1

	got := s.Update(context.Background())
	if diff := cmp.Diff(good, got); diff != "" {
		t.Errorf("degraded Update() mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, s.Rebinding())
	assert.Equal(t, 1, s.RetryCount())
	assert.True(t, s.Recovering())
	if diff := cmp.Diff(good, s.CurrentData()); diff != "" {
		t.Errorf("CurrentData() changed on a degraded update (-want +got):\n%s", diff)
	}

	// all attempts fail: empty result, cache preserved
	rec.interruptAfter = 0
	got = s.Update(context.Background())
	assert.Empty(t, got)
	assert.Empty(t, s.CurrentData())
	assert.False(t, s.Recovering(), "budget spent")
	if diff := cmp.Diff(good, s.LastGoodData()); diff != "" {
		t.Errorf("LastGoodData() mismatch after exhaustion (-want +got):\n%s", diff)
	}

	// recovery resumes on the next call
	d.setDown(false)
	got = s.Update(context.Background())
	assert.Equal(t, json.Number("1"), got["Pow"])
	assert.False(t, s.Rebinding())
	assert.Equal(t, 0, s.RetryCount())
	assert.False(t, s.Recovering())
}

func TestSession_CancelledBeforeFirstAttempt(t *testing.T) {
	d := newFakeDevice()
	s, _ := newTestSession(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := s.Update(ctx)
	assert.Empty(t, got)
	dials, _, _ := d.counts()
	assert.Equal(t, 0, dials)
	assert.ErrorIs(t, s.LastError(), context.Canceled)
}

func TestSession_CancelledDuringAttempt(t *testing.T) {
	d := newFakeDevice()
	s, _ := newTestSession(d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.onRequest = cancel

	got := s.Update(ctx)
	assert.Equal(t, json.Number("1"), got["Pow"], "an attempt in flight completes")
	assert.True(t, s.Bound())
	assert.NoError(t, s.LastError())

	// the next operation sees the cancellation before its first attempt
	d.onRequest = nil
	assert.Empty(t, s.Update(ctx))
	assert.ErrorIs(t, s.LastError(), context.Canceled)
}

func TestSession_DeadlineDuringBackoffServesLastGood(t *testing.T) {
	d := newFakeDevice()
	s := NewSession("192.0.2.10", d)

	good := s.Update(context.Background())
	require.NotEmpty(t, good)

	d.setDown(true)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := s.Update(ctx)

	assert.Less(t, time.Since(start), 900*time.Millisecond, "the first backoff is cut short")
	assert.Equal(t, good, got)
	assert.True(t, s.Recovering())
	assert.Equal(t, 1, s.RetryCount())
}

func TestSession_SharedDialerSeveralDevices(t *testing.T) {
	garage := newFakeDevice()
	loft := newFakeDevice()
	loft.mac = "c8f742ddeeff"
	loft.dat = map[string]any{"Pow": 0, "Mod": 4}

	dialer := transport.NewSharedDialer()
	dialer.LocalPort = 0
	dialer.Timeout = time.Second

	sessions := []*Session{
		NewSession(serveUDP(t, garage), dialer),
		NewSession(serveUDP(t, loft), dialer),
	}
	for _, s := range sessions {
		s.Sleep = (&sleepRecorder{}).Sleep
	}

	results := make([][]protocol.FieldMap, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 3; n++ {
				results[i] = append(results[i], s.Update(context.Background()))
			}
		}()
	}
	wg.Wait()

	for _, got := range results[0] {
		assert.Equal(t, json.Number("1"), got["Pow"])
		assert.Equal(t, json.Number("1"), got["Mod"])
	}
	for _, got := range results[1] {
		assert.Equal(t, json.Number("0"), got["Pow"])
		assert.Equal(t, json.Number("4"), got["Mod"])
	}
	assert.Equal(t, fakeMAC, sessions[0].MAC())
	assert.Equal(t, "c8f742ddeeff", sessions[1].MAC())
	require.NotNil(t, dialer.LocalAddr(), "both sessions share one bound socket")

	for _, s := range sessions {
		assert.True(t, s.Bound())
		assert.NoError(t, s.LastError())
		require.NoError(t, s.Close())
	}
	assert.Nil(t, dialer.LocalAddr())
}

func TestSession_SetPowerIdempotent(t *testing.T) {
	d := newFakeDevice()
	s, _ := newTestSession(d)
	ctx := context.Background()

	require.True(t, s.SetPower(ctx, true))
	mac := s.MAC()
	require.True(t, s.SetPower(ctx, true))

	assert.Equal(t, mac, s.MAC())
	dials, scans, binds := d.counts()
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, scans)
	assert.Equal(t, 1, binds)
	assert.Equal(t, []sentCommand{{"Pow", 1}, {"Pow", 1}}, d.sentCommands())
}

func TestSession_Commands(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, s *Session) bool
		want []sentCommand
		ok   bool
	}{
		{
			name: "power off",
			run:  func(ctx context.Context, s *Session) bool { return s.SetPower(ctx, false) },
			want: []sentCommand{{"Pow", 0}},
			ok:   true,
		},
		{
			name: "cold set point",
			run: func(ctx context.Context, s *Session) bool {
				return s.SetTemperature(ctx, protocol.TemperatureCold, 18)
			},
			want: []sentCommand{{"CoWatOutTemSet", 18}},
			ok:   true,
		},
		{
			name: "hot set point",
			run: func(ctx context.Context, s *Session) bool {
				return s.SetTemperature(ctx, protocol.TemperatureHot, 45)
			},
			want: []sentCommand{{"HeWatOutTemSet", 45}},
			ok:   true,
		},
		{
			name: "shower set point",
			run: func(ctx context.Context, s *Session) bool {
				return s.SetTemperature(ctx, protocol.TemperatureShower, 50)
			},
			want: []sentCommand{{"WatBoxTemSet", 50}},
			ok:   true,
		},
		{
			name: "mode",
			run:  func(ctx context.Context, s *Session) bool { return s.SetMode(ctx, 4) },
			want: []sentCommand{{"Mod", 4}},
			ok:   true,
		},
		{
			name: "unknown temperature kind",
			run: func(ctx context.Context, s *Session) bool {
				return s.SetTemperature(ctx, protocol.TemperatureKind("lukewarm"), 40)
			},
		},
		{
			name: "mode out of range",
			run:  func(ctx context.Context, s *Session) bool { return s.SetMode(ctx, 6) },
		},
		{
			name: "mode zero",
			run:  func(ctx context.Context, s *Session) bool { return s.SetMode(ctx, 0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDevice()
			s, _ := newTestSession(d)

			ok := tt.run(context.Background(), s)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d.sentCommands())
			if !tt.ok {
				dials, _, _ := d.counts()
				assert.Equal(t, 0, dials, "rejected commands do no network I/O")
			}
		})
	}
}

func TestSession_CommandExhausted(t *testing.T) {
	d := newFakeDevice()
	d.down = true
	s, rec := newTestSession(d)

	assert.False(t, s.SetMode(context.Background(), 2))
	assert.Len(t, rec.delays, 2)
	assert.False(t, s.Bound())
}

func TestSession_BindWithoutKey(t *testing.T) {
	d := newFakeDevice()
	d.bindWithoutKey = true
	s, _ := newTestSession(d)
	s.MaxRetries = 1

	assert.Empty(t, s.Update(context.Background()))
	err := s.LastError()
	require.Error(t, err)
	assert.True(t, protocol.IsHandshakeError(err), "got %v", err)
	assert.Equal(t, StateUnbound, s.HandshakeState())
}

func TestSession_Close(t *testing.T) {
	d := newFakeDevice()
	s, _ := newTestSession(d)
	require.NotEmpty(t, s.Update(context.Background()))

	require.NoError(t, s.Close())
	assert.False(t, s.Bound())
	assert.Empty(t, s.MAC())
	assert.Equal(t, 1, d.closes)

	// a closed session binds again on demand
	assert.NotEmpty(t, s.Update(context.Background()))
	_, scans, _ := d.counts()
	assert.Equal(t, 2, scans)
}

func TestSession_ConcurrentOperations(t *testing.T) {
	d := newFakeDevice()
	s, _ := newTestSession(d)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, s.Update(ctx))
		}()
		go func() {
			defer wg.Done()
			assert.True(t, s.SetPower(ctx, true))
		}()
	}
	wg.Wait()

	_, scans, _ := d.counts()
	assert.Equal(t, 1, scans, "operations are serialized behind one handshake")
	assert.Len(t, d.sentCommands(), 8)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: 2 * time.Second},
		{attempt: 2, want: 4 * time.Second},
		{attempt: 3, want: 8 * time.Second},
		{attempt: 4, want: 10 * time.Second},
		{attempt: 62, want: 10 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, DefaultMaxRetryDelay); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
