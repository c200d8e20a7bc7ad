package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"critical": zerolog.FatalLevel,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", in, got, want)
		}
	}
}

func TestCritical_DoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	Critical(&l).Str("route_table", "rtb-1").Msg("route did not converge")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if rec["level"] != "fatal" || rec["severity"] != "critical" || rec["route_table"] != "rtb-1" {
		t.Fatalf("rec=%v", rec)
	}
}

func TestNew_JSONHonoursLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New("meshctl", "warn", FormatJSON, &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("out=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"app":"meshctl"`)) {
		t.Fatalf("missing app field: %s", buf.String())
	}
}

func TestNew_LeavesGlobalLogger(t *testing.T) {
	before := log.Logger
	var buf bytes.Buffer
	_ = New("meshctl", "debug", FormatJSON, &buf)

	log.Logger.Info().Msg("through the global")
	if bytes.Contains(buf.Bytes(), []byte("through the global")) {
		t.Fatalf("global logger writes to the configured output: %s", buf.String())
	}
	if log.Logger.GetLevel() != before.GetLevel() {
		t.Fatalf("global level=%v before=%v", log.Logger.GetLevel(), before.GetLevel())
	}
}
