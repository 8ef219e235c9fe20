package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the UDP port used by the device and, by convention, the local socket
const DefaultPort = 7000

// Device field names
const (
	FieldPower = "Pow"
	FieldMode  = "Mod"

	FieldColdWaterSet   = "CoWatOutTemSet"
	FieldHotWaterSet    = "HeWatOutTemSet"
	FieldShowerWaterSet = "WatBoxTemSet"

	FieldWaterInHi  = "AllInWatTemHi"
	FieldWaterInLo  = "AllInWatTemLo"
	FieldWaterOutHi = "AllOutWatTemHi"
	FieldWaterOutLo = "AllOutWatTemLo"
	FieldPumpOutHi  = "HepOutWatTemHi"
	FieldPumpOutLo  = "HepOutWatTemLo"
	FieldTankHi     = "WatBoxTemHi"
	FieldTankLo     = "WatBoxTemLo"
	FieldRoomHi     = "RmoHomTemHi"
	FieldRoomLo     = "RmoHomTemLo"
)

// StatusColumns is the ordered column list sent with every status request.
// Array-shaped replies are aligned with this order.
var StatusColumns = []string{
	FieldPower,
	FieldMode,
	FieldColdWaterSet,
	FieldHotWaterSet,
	FieldShowerWaterSet,
	FieldWaterInHi, FieldWaterInLo,
	FieldWaterOutHi, FieldWaterOutLo,
	FieldPumpOutHi, FieldPumpOutLo,
	FieldTankHi, FieldTankLo,
	FieldRoomHi, FieldRoomLo,
}

// TemperatureKind names one of the writable water temperature set points
type TemperatureKind string

const (
	TemperatureCold   TemperatureKind = "cold"
	TemperatureHot    TemperatureKind = "hot"
	TemperatureShower TemperatureKind = "shower"
)

// TemperatureKinds lists the set points in display order
var TemperatureKinds = []TemperatureKind{TemperatureCold, TemperatureHot, TemperatureShower}

var temperatureFields = map[TemperatureKind]string{
	TemperatureCold:   FieldColdWaterSet,
	TemperatureHot:    FieldHotWaterSet,
	TemperatureShower: FieldShowerWaterSet,
}

// Field returns the device field for the set point, or false for an unknown kind
func (k TemperatureKind) Field() (string, bool) {
	f, ok := temperatureFields[k]
	return f, ok
}

// Range returns the accepted set point range in °C
func (k TemperatureKind) Range() (lo, hi int) {
	if k == TemperatureCold {
		return 5, 30
	}
	return 30, 60
}

// Validate checks that the kind is known and the value lies within its range
func (k TemperatureKind) Validate(value int) error {
	if _, ok := k.Field(); !ok {
		return fmt.Errorf("unknown temperature type %q (use cold, hot or shower)", string(k))
	}
	lo, hi := k.Range()
	if value < lo || value > hi {
		return fmt.Errorf("%s temperature must be between %d and %d, got %d", k, lo, hi, value)
	}
	return nil
}

// ParseTemperatureKind accepts a kind name case-insensitively
func ParseTemperatureKind(s string) (TemperatureKind, error) {
	k := TemperatureKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := k.Field(); !ok {
		return "", fmt.Errorf("unknown temperature type %q (use cold, hot or shower)", s)
	}
	return k, nil
}

// Mode is the operating mode reported in and written to the Mod field
type Mode int

const (
	ModeHeat            Mode = 1
	ModeHotWater        Mode = 2
	ModeCoolAndHotWater Mode = 3
	ModeHeatAndHotWater Mode = 4
	ModeCool            Mode = 5
)

// Modes lists all modes in numeric order
var Modes = []Mode{ModeHeat, ModeHotWater, ModeCoolAndHotWater, ModeHeatAndHotWater, ModeCool}

// Valid reports whether m is one of the five known modes
func (m Mode) Valid() bool {
	return m >= ModeHeat && m <= ModeCool
}

// String returns the display name of the mode
func (m Mode) String() string {
	switch m {
	case ModeHeat:
		return "Heat"
	case ModeHotWater:
		return "Hot water"
	case ModeCoolAndHotWater:
		return "Cool + Hot water"
	case ModeHeatAndHotWater:
		return "Heat + Hot water"
	case ModeCool:
		return "Cool"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts either the mode number or its display name (case-insensitive)
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if m := Mode(n); m.Valid() {
			return m, nil
		}
		return 0, fmt.Errorf("mode must be between 1 and 5, got %d", n)
	}
	for _, m := range Modes {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}
