package bridge

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/telemetry"
)

// Controller is one polled heat pump as seen by the bridge.
// *poller.Coordinator satisfies it.
type Controller interface {
	Name() string
	Latest() (poller.Snapshot, bool)
	Subscribe() (<-chan poller.Snapshot, func())
	SetPower(ctx context.Context, on bool) bool
	SetTemperature(ctx context.Context, kind protocol.TemperatureKind, value int) bool
	SetMode(ctx context.Context, mode int) bool
}

// State is the published view of a snapshot. Values are omitted when they
// are not available under the poller's availability rule.
type State struct {
	Device       string             `json:"device"`
	Host         string             `json:"host"`
	MAC          string             `json:"mac,omitempty"`
	Available    bool               `json:"available"`
	Rebinding    bool               `json:"rebinding"`
	RetryCount   int                `json:"retry_count"`
	Power        *bool              `json:"power,omitempty"`
	Mode         int                `json:"mode,omitempty"`
	ModeName     string             `json:"mode_name,omitempty"`
	SetPoints    map[string]int     `json:"set_points,omitempty"`
	Temperatures map[string]float64 `json:"temperatures,omitempty"`
	Fields       protocol.FieldMap  `json:"fields"`
	UpdatedAt    string             `json:"updated_at"`
}

// NewState builds the published view of snap
func NewState(snap poller.Snapshot) State {
	st := State{
		Device:     snap.Device,
		Host:       snap.Host,
		MAC:        snap.MAC,
		Available:  snap.Available,
		Rebinding:  snap.Rebinding,
		RetryCount: snap.RetryCount,
		Fields:     snap.Data.Clone(),
		UpdatedAt:  snap.At.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if snap.FieldAvailable(protocol.FieldPower) {
		if v, ok := snap.Data.Int(protocol.FieldPower); ok {
			on := v == 1
			st.Power = &on
		}
	}
	if snap.FieldAvailable(protocol.FieldMode) {
		if v, ok := snap.Data.Int(protocol.FieldMode); ok {
			st.Mode = v
			st.ModeName = protocol.Mode(v).String()
		}
	}

	for _, kind := range protocol.TemperatureKinds {
		field, _ := kind.Field()
		if !snap.FieldAvailable(field) {
			continue
		}
		if v, ok := snap.Data.Int(field); ok {
			if st.SetPoints == nil {
				st.SetPoints = make(map[string]int, len(protocol.TemperatureKinds))
			}
			st.SetPoints[string(kind)] = v
		}
	}

	for _, q := range telemetry.Quantities {
		if !snap.ReadingAvailable(q) {
			continue
		}
		v, _ := snap.Readings.Get(q)
		if st.Temperatures == nil {
			st.Temperatures = make(map[string]float64, len(telemetry.Quantities))
		}
		st.Temperatures[q.Name] = v
	}

	return st
}

// ParsePower accepts on/off, true/false and 1/0 in any case
func ParsePower(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid power value %q (use on or off)", s)
	}
}

// ParseSetPoint parses a whole-degree set point and checks it against the kind's range
func ParseSetPoint(kind protocol.TemperatureKind, s string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("invalid temperature %q (whole degrees only)", s)
	}
	v := int(f)
	if err := kind.Validate(v); err != nil {
		return 0, err
	}
	return v, nil
}

// apply validates one write and dispatches it to c. what is power, mode
// or a temperature kind. The returned bool is the device's acknowledgement.
func apply(ctx context.Context, c Controller, what, value string) (bool, error) {
	switch what {
	case "power":
		on, err := ParsePower(value)
		if err != nil {
			return false, err
		}
		return c.SetPower(ctx, on), nil
	case "mode":
		m, err := protocol.ParseMode(value)
		if err != nil {
			return false, err
		}
		return c.SetMode(ctx, int(m)), nil
	default:
		kind, err := protocol.ParseTemperatureKind(what)
		if err != nil {
			return false, err
		}
		v, err := ParseSetPoint(kind, value)
		if err != nil {
			return false, err
		}
		return c.SetTemperature(ctx, kind, v), nil
	}
}
