package protocol

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{input: "1", want: ModeHeat},
		{input: "5", want: ModeCool},
		{input: " 3 ", want: ModeCoolAndHotWater},
		{input: "hot water", want: ModeHotWater},
		{input: "Heat + Hot water", want: ModeHeatAndHotWater},
		{input: "0", wantErr: true},
		{input: "6", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "turbo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseMode(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	if got := ModeCoolAndHotWater.String(); got != "Cool + Hot water" {
		t.Errorf("String() = %q", got)
	}
	if got := Mode(9).String(); got != "Mode(9)" {
		t.Errorf("String() = %q, want Mode(9)", got)
	}
}

func TestTemperatureKind(t *testing.T) {
	tests := []struct {
		kind       TemperatureKind
		field      string
		lo, hi     int
		valid      int
		outOfRange int
	}{
		{kind: TemperatureCold, field: FieldColdWaterSet, lo: 5, hi: 30, valid: 18, outOfRange: 31},
		{kind: TemperatureHot, field: FieldHotWaterSet, lo: 30, hi: 60, valid: 45, outOfRange: 29},
		{kind: TemperatureShower, field: FieldShowerWaterSet, lo: 30, hi: 60, valid: 60, outOfRange: 61},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f, ok := tt.kind.Field()
			if !ok || f != tt.field {
				t.Errorf("Field() = %q, %v, want %q", f, ok, tt.field)
			}
			lo, hi := tt.kind.Range()
			if lo != tt.lo || hi != tt.hi {
				t.Errorf("Range() = %d..%d, want %d..%d", lo, hi, tt.lo, tt.hi)
			}
			if err := tt.kind.Validate(tt.valid); err != nil {
				t.Errorf("Validate(%d) error = %v", tt.valid, err)
			}
			if err := tt.kind.Validate(tt.outOfRange); err == nil {
				t.Errorf("Validate(%d) = nil, want error", tt.outOfRange)
			}
		})
	}

	if _, ok := TemperatureKind("lukewarm").Field(); ok {
		t.Error("Field() of unknown kind reported ok")
	}
	if k, err := ParseTemperatureKind(" HOT "); err != nil || k != TemperatureHot {
		t.Errorf("ParseTemperatureKind(HOT) = %v, %v", k, err)
	}
	if _, err := ParseTemperatureKind("lukewarm"); err == nil {
		t.Error("ParseTemperatureKind(lukewarm) = nil error")
	}
}
