package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/sirupsen/logrus"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	l := configure(logrus.New(), config.GeneralConfig{LogLevel: "warn", LogFormat: "json"}, &buf)
	l.Info("hidden")
	l.WithField("component", "session").Warn("shown")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["component"] != "session" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConfigureDebugOverridesLevel(t *testing.T) {
	l := configure(logrus.New(), config.GeneralConfig{LogLevel: "error", Debug: true}, &bytes.Buffer{})
	if l.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
	l = configure(logrus.New(), config.GeneralConfig{LogLevel: "bogus"}, &bytes.Buffer{})
	if l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", l.GetLevel())
	}
}
