package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("INFO", "json", &buf)

	Log.Info("forward complete", "seq_length", 64, "tier", "scalar")

	out := buf.String()
	if !strings.Contains(out, `"seq_length":64`) {
		t.Errorf("expected seq_length field in output, got %q", out)
	}
	if !strings.Contains(out, `"tier":"scalar"`) {
		t.Errorf("expected tier field in output, got %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("WARN", "json", &buf)

	Log.Debug("should be suppressed")
	Log.Info("should be suppressed")
	Log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("expected debug/info suppressed at WARN level, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn message kept, got %q", out)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("INFO", "json", &buf)

	Log.Component("attention").Info("init")
	if !strings.Contains(buf.String(), `"component":"attention"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}
