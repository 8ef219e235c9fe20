// Package telemetry converts raw heat pump status fields into temperatures.
//
// The device reports each temperature as a pair of integer fields: Hi holds
// the whole degrees offset by 100 and Lo holds tenths of a degree.
package telemetry

import (
	"math"

	"github.com/muurk/greehp/internal/protocol"
)

// hiOffset is subtracted from the Hi field to obtain whole degrees
const hiOffset = 100

// Quantity is a temperature derived from a Hi/Lo field pair
type Quantity struct {
	Name  string
	Label string
	Hi    string
	Lo    string
}

// Derived quantities
var (
	WaterIn  = Quantity{Name: "water_in", Label: "Water in", Hi: protocol.FieldWaterInHi, Lo: protocol.FieldWaterInLo}
	WaterOut = Quantity{Name: "water_out", Label: "Water out", Hi: protocol.FieldWaterOutHi, Lo: protocol.FieldWaterOutLo}
	Tank     = Quantity{Name: "tank", Label: "Tank", Hi: protocol.FieldTankHi, Lo: protocol.FieldTankLo}
	PumpOut  = Quantity{Name: "pump_out", Label: "Pump out", Hi: protocol.FieldPumpOutHi, Lo: protocol.FieldPumpOutLo}
	Room     = Quantity{Name: "room", Label: "Room", Hi: protocol.FieldRoomHi, Lo: protocol.FieldRoomLo}
)

// Quantities lists every derived temperature in display order.
// The first three are the monitored water temperatures.
var Quantities = []Quantity{WaterIn, WaterOut, Tank, PumpOut, Room}

// Temperature decodes a Hi/Lo pair as (hi-100) + lo*0.1, rounded to one decimal
func Temperature(hi, lo float64) float64 {
	return math.Round(((hi-hiOffset)+lo*0.1)*10) / 10
}

// Read derives q from m. It reports false when either field is absent or not numeric.
func (q Quantity) Read(m protocol.FieldMap) (float64, bool) {
	hi, ok := m.Float(q.Hi)
	if !ok {
		return 0, false
	}
	lo, ok := m.Float(q.Lo)
	if !ok {
		return 0, false
	}
	return Temperature(hi, lo), true
}

// Readings holds derived temperatures keyed by Quantity.Name.
// A quantity whose fields were missing is absent rather than zero.
type Readings map[string]float64

// Derive computes every quantity available in m
func Derive(m protocol.FieldMap) Readings {
	r := make(Readings, len(Quantities))
	for _, q := range Quantities {
		if v, ok := q.Read(m); ok {
			r[q.Name] = v
		}
	}
	return r
}

// Get returns the reading for q, if present
func (r Readings) Get(q Quantity) (float64, bool) {
	v, ok := r[q.Name]
	return v, ok
}
