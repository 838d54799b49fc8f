package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestInitAndLevelString(t *testing.T) {
	Init("debug")
	if got := LevelString(); got != "debug" {
		t.Fatalf("LevelString() = %q, want %q", got, "debug")
	}
	Init("WARN")
	if got := LevelString(); got != "warn" {
		t.Fatalf("LevelString() = %q, want %q", got, "warn")
	}
	Init("nonsense")
	if got := LevelString(); got != "info" {
		t.Fatalf("LevelString() = %q, want %q for unknown input", got, "info")
	}
}

func TestLevelFiltering(t *testing.T) {
	// capture output by replacing the package logger
	var buf bytes.Buffer
	orig := out
	out = log.New(&buf, "", 0)
	defer func() { out = orig }()

	Init("warn")
	Debugf("debug-msg")
	Infof("info-msg")
	Warnf("warn-msg")
	Errorf("error-msg")

	s := buf.String()
	if strings.Contains(s, "debug-msg") || strings.Contains(s, "info-msg") {
		t.Fatalf("messages below warn should be suppressed: %q", s)
	}
	if !strings.Contains(s, "warn-msg") || !strings.Contains(s, "error-msg") {
		t.Fatalf("warn/error messages missing: %q", s)
	}
}
