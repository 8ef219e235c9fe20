package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, level zapcore.Level) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(level)
	prev := logger
	SetLogger(zap.New(core))
	t.Cleanup(func() { logger = prev })
	return logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{input: "debug", want: zapcore.DebugLevel},
		{input: "INFO", want: zapcore.InfoLevel},
		{input: "warning", want: zapcore.WarnLevel},
		{input: " error ", want: zapcore.ErrorLevel},
		{input: "verbose", want: zapcore.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestInitializeSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	prev := logger
	t.Cleanup(func() { logger = prev })

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be a no-op when no level is configured")
	}
}

func TestInitializeUsesEnvLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	prev := logger
	t.Cleanup(func() { logger = prev })

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	core := GetLogger().Core()
	if core.Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !core.Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestStdLog(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	StdLog("http", zapcore.WarnLevel).Printf("http: TLS handshake error from %s", "192.0.2.7:51000")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.LoggerName != "http" {
		t.Errorf("logger name = %q, want http", e.LoggerName)
	}
	if e.Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", e.Level)
	}
	if e.Message != "http: TLS handshake error from 192.0.2.7:51000" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestLogAttempt(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)

	LogAttempt("192.168.1.50", "status", 0, 3, nil)
	LogAttempt("192.168.1.50", "status", 1, 3, errors.New("timeout"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Errorf("success level = %v, want debug", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("failure level = %v, want warn", entries[1].Level)
	}
	if got := entries[1].ContextMap()["attempt"]; got != int64(2) {
		t.Errorf("attempt field = %v, want 2 (1-based)", got)
	}
}

func TestLogDatagramOnlyAtDebug(t *testing.T) {
	logs := observe(t, zapcore.InfoLevel)
	LogDatagram("192.168.1.50:7000", "sent", []byte(`{"t":"scan"}`))
	if logs.Len() != 0 {
		t.Errorf("datagram logged at info level: %v", logs.All())
	}

	logs = observe(t, zapcore.DebugLevel)
	LogDatagram("192.168.1.50:7000", "sent", []byte(`{"t":"scan"}`))
	if logs.Len() != 1 {
		t.Fatalf("got %d entries, want 1", logs.Len())
	}
	if got := logs.All()[0].ContextMap()["content"]; got != `{"t":"scan"}` {
		t.Errorf("content = %v", got)
	}
}

func TestLogBackoff(t *testing.T) {
	logs := observe(t, zapcore.DebugLevel)
	LogBackoff("h", "bind", 2*time.Second)
	if got := logs.FilterField(zap.Duration("delay", 2*time.Second)).Len(); got != 1 {
		t.Errorf("backoff entries with delay=2s = %d, want 1", got)
	}
}

func TestDumps(t *testing.T) {
	if got := asciiDump([]byte{'a', 0x00, 'b', 0x7f}); got != "a.b." {
		t.Errorf("asciiDump() = %q, want %q", got, "a.b.")
	}
	if got := hexDump([]byte{0xde, 0xad}); got != "dead" {
		t.Errorf("hexDump() = %q, want %q", got, "dead")
	}
	if hexDump(nil) != "" || asciiDump(nil) != "" {
		t.Error("dumps of empty input should be empty")
	}
}
