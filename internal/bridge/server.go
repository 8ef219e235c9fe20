package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/muurk/greehp/internal/config"
	"github.com/muurk/greehp/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the bridge configuration
type Config struct {
	Listen         string      // HTTP listen address
	AllowedOrigins []string    // CORS and websocket origins; empty allows any
	MQTT           *MQTTConfig // nil disables MQTT
}

// Server exposes polled heat pumps over HTTP, websocket and MQTT
type Server struct {
	config  *Config
	devices map[string]Controller
	order   []string

	hub    *Hub
	mqtt   *MQTTBridge
	http   *http.Server
	cancel context.CancelFunc

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
}

// New creates a bridge for the given devices. The first device is the
// default for the unqualified /api routes.
func New(cfg *Config, devices ...Controller) (*Server, error) {
	if len(devices) == 0 {
		return nil, errors.New("bridge needs at least one device")
	}
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultHTTPListen
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		config:  cfg,
		devices: make(map[string]Controller, len(devices)),
	}
	for _, d := range devices {
		if _, dup := s.devices[d.Name()]; dup {
			return nil, fmt.Errorf("device %q registered twice", d.Name())
		}
		s.devices[d.Name()] = d
		s.order = append(s.order, d.Name())
	}

	s.hub = NewHub(s.latestStates, s.checkOrigin)
	if cfg.MQTT != nil {
		s.mqtt = NewMQTTBridge(*cfg.MQTT, s.devices)
	}
	s.http = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: commandTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     logging.StdLog("http", zapcore.WarnLevel),
	}
	return s, nil
}

// Handler returns the HTTP handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Addr returns the listening address once Start has bound it
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) latestStates() []State {
	states := make([]State, 0, len(s.order))
	for _, name := range s.order {
		if snap, ok := s.devices[name].Latest(); ok {
			states = append(states, NewState(snap))
		}
	}
	return states
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

// Start starts the bridge and blocks until ctx is done, a shutdown signal
// arrives or the HTTP server fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logging.Info("Starting greehp bridge",
		zap.String("addr", listener.Addr().String()),
		zap.Strings("devices", s.order),
		zap.Bool("mqtt", s.mqtt != nil),
	)

	fwdCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.mqtt != nil {
		if err := s.mqtt.Connect(); err != nil {
			logging.Warn("MQTT unavailable, will keep retrying in the background", zap.Error(err))
		}
	}

	for _, name := range s.order {
		s.wg.Add(1)
		go func(c Controller) {
			defer s.wg.Done()
			s.forward(fwdCtx, c)
		}(s.devices[name])
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(listener)
	}()

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping bridge...")
		return shutdown()
	case <-ctx.Done():
		return shutdown()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = shutdown()
		return err
	}
}

// forward relays every snapshot of c to websocket clients and MQTT
func (s *Server) forward(ctx context.Context, c Controller) {
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			st := NewState(snap)
			s.hub.Broadcast(st)
			if s.mqtt != nil {
				if err := s.mqtt.PublishState(st); err != nil {
					logging.Debug("MQTT publish failed", zap.String("device", st.Device), zap.Error(err))
				}
			}
		}
	}
}

// Shutdown stops the HTTP server, disconnects clients and waits for the
// forwarding goroutines to finish
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	logging.Info("Shutting down bridge...")

	if s.cancel != nil {
		s.cancel()
	}

	err := s.http.Shutdown(ctx)
	if err != nil {
		logging.Error("Error shutting down HTTP server", zap.Error(err))
	}
	s.hub.CloseAll()
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("Bridge stopped")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()
	return err
}
