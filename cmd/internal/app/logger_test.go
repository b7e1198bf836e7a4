package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerTo_Format(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := newLoggerTo(&buf, "debug", "json", false)
	log.Debug("session.sweep", "deleted", 3)
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"deleted":3`) {
		t.Fatalf("json output=%q", buf.String())
	}
	if slog.Default() != log {
		t.Fatalf("logger was not installed as default")
	}

	buf.Reset()
	log = newLoggerTo(&buf, "warn", " Pretty ", false)
	log.Info("dropped")
	log.Warn("access.relay.fail", "email", "a@example.org")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered at warn: %q", out)
	}
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "access.relay.fail") {
		t.Fatalf("pretty output=%q", out)
	}
}
