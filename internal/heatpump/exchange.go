package heatpump

import (
	"context"

	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/protocol"
	"go.uber.org/zap"
)

// roundTrip sends one request and waits for one reply on the current transport
func (s *Session) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if s.tr == nil {
		return nil, protocol.NewTransportError("send", "transport is not open", nil)
	}
	if err := s.tr.Send(ctx, req); err != nil {
		return nil, err
	}
	return s.tr.Receive(ctx)
}

// fetchStatus requests every status column and reconciles the reply
func (s *Session) fetchStatus(ctx context.Context) (protocol.FieldMap, error) {
	mac := s.MAC()
	req, err := protocol.NewStatusRequest(mac, protocol.StatusColumns, s.cipher)
	if err != nil {
		return nil, err
	}
	reply, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeStatusReply(reply, protocol.StatusColumns, s.cipher)
}

// sendCommand writes one field. A decodable reply is success; its content is
// informational only.
func (s *Session) sendCommand(ctx context.Context, field string, value int) error {
	mac := s.MAC()
	req, err := protocol.NewCommandRequest(mac, field, value, s.cipher)
	if err != nil {
		return err
	}
	reply, err := s.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	res, err := protocol.DecodeCommandReply(reply, s.cipher)
	if err != nil {
		return err
	}
	logging.Debug("Command acknowledged",
		zap.String("host", s.host),
		zap.String("field", field),
		zap.Int("value", value),
		zap.String("result", res.R.String()),
	)
	return nil
}
