package heatpump

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"go.uber.org/zap"
)

// Handshake states
const (
	StateUnbound     = "unbound"
	StateDiscovering = "discovering"
	StateBinding     = "binding"
	StateBound       = "bound"
)

const (
	eventScan     = "scan"
	eventBind     = "bind"
	eventComplete = "complete"
	eventReset    = "reset"
)

func newHandshakeFSM(host string) *fsm.FSM {
	return fsm.NewFSM(
		StateUnbound,
		fsm.Events{
			{Name: eventScan, Src: []string{StateUnbound}, Dst: StateDiscovering},
			{Name: eventBind, Src: []string{StateDiscovering}, Dst: StateBinding},
			{Name: eventComplete, Src: []string{StateBinding}, Dst: StateBound},
			{Name: eventReset, Src: []string{StateDiscovering, StateBinding, StateBound}, Dst: StateUnbound},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logging.Debug("Handshake state changed",
					zap.String("host", host),
					zap.String("event", e.Event),
					zap.String("from", e.Src),
					zap.String("to", e.Dst),
				)
			},
		},
	)
}

// transition fires a handshake event. Cancellation of ctx never interrupts it.
func (s *Session) transition(ctx context.Context, event string) error {
	err := s.hs.Event(context.WithoutCancel(ctx), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}

// handshake discovers the device MAC and binds to obtain the session key.
// On any failure the session is torn down to unbound and a handshake error returned.
func (s *Session) handshake(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if !protocol.IsHandshakeError(err) {
				err = protocol.NewHandshakeError("connect", "failed to open transport", err)
			}
			s.teardown(true)
		}
	}()

	// a fresh socket for every bind attempt
	s.closeTransport()
	tr, err := s.Dialer.Dial(ctx, s.host)
	if err != nil {
		return err
	}
	s.tr = tr

	if err := s.transition(ctx, eventScan); err != nil {
		return protocol.NewHandshakeError("scan", "invalid handshake transition", err)
	}
	reply, err := s.roundTrip(ctx, protocol.NewScanRequest())
	if err != nil {
		return protocol.NewHandshakeError("scan", "no scan reply", err)
	}
	scan, err := protocol.DecodeScanReply(reply, s.wellKnown)
	if err != nil {
		return protocol.NewHandshakeError("scan", "unusable scan reply", err)
	}
	s.setMAC(scan.MAC)

	if err := s.transition(ctx, eventBind); err != nil {
		return protocol.NewHandshakeError("bind", "invalid handshake transition", err)
	}
	req, err := protocol.NewBindRequest(scan.MAC, s.wellKnown)
	if err != nil {
		return protocol.NewHandshakeError("bind", "failed to build bind request", err)
	}
	reply, err = s.roundTrip(ctx, req)
	if err != nil {
		return protocol.NewHandshakeError("bind", "no bind reply", err)
	}
	bind, err := protocol.DecodeBindReply(reply, s.wellKnown)
	if err != nil {
		return protocol.NewHandshakeError("bind", "unusable bind reply", err)
	}
	c, err := protocol.NewCipher(bind.Key)
	if err != nil {
		return protocol.NewHandshakeError("bind", "device returned an unusable key", err)
	}
	s.cipher = c

	if err := s.transition(ctx, eventComplete); err != nil {
		return protocol.NewHandshakeError("bind", "invalid handshake transition", err)
	}

	logging.Info("Bound to heat pump",
		zap.String("host", s.host),
		zap.String("mac", scan.MAC),
		zap.String("name", scan.Name),
		zap.String("firmware", scan.Version),
	)
	return nil
}

// ensureBound runs the handshake unless the session is already bound
func (s *Session) ensureBound(ctx context.Context) error {
	if s.hs.Is(StateBound) && s.cipher != nil && s.tr != nil {
		return nil
	}
	return s.handshake(ctx)
}
