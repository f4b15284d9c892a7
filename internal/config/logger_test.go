package config

import (
	"testing"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_DebugLevel(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(0) {
		t.Error("info level should be disabled at warn")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "banana", Format: "json"})
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "info", Format: "xml"})
	if err == nil {
		t.Fatal("expected error for invalid format")
	}
}
