package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_DiscardsBeforeInit(t *testing.T) {
	Close()
	Info("nothing %d", 1)
	if GetWriter() == nil {
		t.Fatal("GetWriter() returned nil")
	}
}

func TestLogger_InitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Info("scenario %q started", "Add two numbers")
	Warn("no matching step definition for %q", "I do nothing")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `scenario "Add two numbers" started`) {
		t.Errorf("log missing info line: %s", out)
	}
	if !strings.Contains(out, "WARN") {
		t.Errorf("log missing warn level: %s", out)
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	defer SetLevel("info")

	Debug("hidden")
	Info("hidden too")
	Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("messages below warn were written: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("error message missing: %s", buf.String())
	}
}

func TestLogger_InvalidLevel(t *testing.T) {
	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
}

func TestLogger_InitBadPath(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "run.log")); err == nil {
		t.Error("Init() should fail for a missing directory")
	}
}
