package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestLevelsWritePrefixedLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	color.NoColor = true

	Info("saved %d files", 3)
	Warn("no secret for %s", "crm")
	Error("boom")

	got := buf.String()
	for _, want := range []string{"[INFO] saved 3 files\n", "[WARN] no secret for crm\n", "[ERROR] boom\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got %q", want, got)
		}
	}
}

func TestDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Init(false)
	Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no debug output when disabled, got %q", buf.String())
	}

	Init(true)
	Debug("GET %s", "/core/cfo/cfi/CloudFrameWorkModules")
	if !strings.Contains(buf.String(), "[DEBUG] GET /core/cfo/cfi/CloudFrameWorkModules") {
		t.Errorf("Expected debug line, got %q", buf.String())
	}
	if !color.NoColor {
		t.Error("Expected color to be disabled for a non-terminal writer")
	}
	Init(false)
}
