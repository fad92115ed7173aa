package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.WithField("attempts", 3).Info("done")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "done" || entry["attempts"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp field missing")
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNew_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fitsize.log")
	var console bytes.Buffer
	cfg := DefaultConfig()
	cfg.FilePath = path
	cfg.Output = &console

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	WithRequest(log, "abc").Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"request_id":"abc"`) {
		t.Errorf("file = %s", data)
	}
	if console.Len() == 0 {
		t.Error("console output missing")
	}
}

func TestWithFile(t *testing.T) {
	entry := WithFile(logrus.New(), "a.jpg")
	if entry.Data["file"] != "a.jpg" {
		t.Errorf("fields = %v", entry.Data)
	}
}
