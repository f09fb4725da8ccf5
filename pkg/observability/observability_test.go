package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := SetupLogger("debug", "json", &buf)
	logger.Debug("frame", "id", 0x100)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %v: %q", err, buf.String())
	}
	if rec["msg"] != "frame" || rec["level"] != "DEBUG" {
		t.Errorf("record = %v", rec)
	}
	if slog.Default() != logger {
		t.Error("SetupLogger() did not install the default logger")
	}
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Debug("hidden")
	logger.With("bus", "virtual").WithGroup("rx").Info("drained", "frames", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	for _, want := range []string{"INF", "drained", "bus", "=virtual", "rx.frames", "=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.FramesReceived.Add(3)
	m.FramesDecoded.WithLabelValues("0x100").Inc()
	m.DecodeFailures.WithLabelValues("unknown_frame").Inc()
	m.Errors.WithLabelValues("send").Inc()

	if got := testutil.ToFloat64(m.FramesReceived); got != 3 {
		t.Errorf("FramesReceived = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("send")); got != 1 {
		t.Errorf("Errors{send} = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"canman_frames_received_total 3",
		`canman_decode_failures_total{reason="unknown_frame"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics body missing %s:\n%s", want, body)
		}
	}
}

func TestShutdownCoordinator(t *testing.T) {
	var order []string
	sc := &ShutdownCoordinator{}
	sc.Register("bus", func(context.Context) error {
		order = append(order, "bus")
		return nil
	})
	sc.Register("sink", func(context.Context) error {
		order = append(order, "sink")
		return errors.New("flush failed")
	})

	err := sc.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "sink: flush failed") {
		t.Errorf("Shutdown() error = %v", err)
	}
	if len(order) != 2 || order[0] != "sink" || order[1] != "bus" {
		t.Errorf("order = %v, want [sink bus]", order)
	}
	if err := sc.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
