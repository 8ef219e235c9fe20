package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// FieldMap is a decoded status: field name to raw device value.
// Numbers decoded from the wire are json.Number.
type FieldMap map[string]any

// Clone returns a shallow copy that is safe to hand to another goroutine
func (m FieldMap) Clone() FieldMap {
	if m == nil {
		return FieldMap{}
	}
	return maps.Clone(m)
}

// Float returns the field as a float64 if it is present and numeric
func (m FieldMap) Float(name string) (float64, bool) {
	v, ok := m[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns the field as an int if it is present and a whole number
func (m FieldMap) Int(name string) (int, bool) {
	f, ok := m.Float(name)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type datShape int

const (
	datObject datShape = iota + 1
	datArray
)

// statusData is the two shapes a status reply's dat may take
type statusData struct {
	shape  datShape
	object map[string]any
	array  []any
}

func (d *statusData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty dat")
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	switch b[0] {
	case '{':
		d.shape = datObject
		return dec.Decode(&d.object)
	case '[':
		d.shape = datArray
		return dec.Decode(&d.array)
	default:
		return fmt.Errorf("dat must be an object or an array, got %s", truncate(b, 32))
	}
}

// DecodeStatusData reconciles a status reply's dat against the requested columns.
// An object is taken as-is. An array is zipped positionally with cols and
// truncated to the shorter of the two.
func DecodeStatusData(cols []string, dat json.RawMessage) (FieldMap, error) {
	if len(bytes.TrimSpace(dat)) == 0 {
		return nil, NewProtocolError("status", "status reply has no dat", nil)
	}

	var d statusData
	if err := json.Unmarshal(dat, &d); err != nil {
		return nil, NewProtocolError("status", "unusable dat in status reply", err)
	}

	switch d.shape {
	case datObject:
		return FieldMap(d.object), nil
	case datArray:
		n := min(len(cols), len(d.array))
		m := make(FieldMap, n)
		for i := 0; i < n; i++ {
			m[cols[i]] = d.array[i]
		}
		return m, nil
	default:
		return nil, NewProtocolError("status", "unusable dat in status reply", nil)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
