package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseComponent = ""
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func decodeEvent(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line, "expected a log line")
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	return event
}

func TestInitFromConfigEnvironmentOverridesConfig(t *testing.T) {
	t.Cleanup(resetLoggingState)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	_, err := InitFromConfig(context.Background(), Config{
		Format:    "console",
		Level:     "debug",
		Component: "billing-cp",
	})
	require.NoError(t, err)

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	mu.RLock()
	defer mu.RUnlock()
	assert.Equal(t, os.Stderr, baseWriter, "json format writes straight to stderr")
	assert.Equal(t, "billing-cp", baseComponent)
}

func TestInitFromConfigUsesConfigWhenEnvironmentUnset(t *testing.T) {
	t.Cleanup(resetLoggingState)
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	_, err := InitFromConfig(context.Background(), Config{Format: "json", Level: "warning"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInitFromConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		envLevel string
		envFmt   string
		cfg      Config
		wantErr  string
	}{
		{name: "config level", cfg: Config{Level: "chatty", Format: "json"}, wantErr: `invalid log level "chatty"`},
		{name: "config format", cfg: Config{Level: "info", Format: "xml"}, wantErr: `invalid log format "xml"`},
		{name: "env level overrides valid config", envLevel: "loud", cfg: Config{Level: "info", Format: "json"}, wantErr: `invalid log level "loud"`},
		{name: "env format overrides valid config", envFmt: "yaml", cfg: Config{Level: "info", Format: "json"}, wantErr: `invalid log format "yaml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(resetLoggingState)
			t.Setenv("LOG_LEVEL", tt.envLevel)
			t.Setenv("LOG_FORMAT", tt.envFmt)
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)

			_, err := InitFromConfig(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel(), "a rejected config must not touch the global level")
		})
	}
}

func TestWithRequestID(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "  req-42 ")
	assert.Equal(t, "req-42", id)
	assert.Equal(t, "req-42", GetRequestID(ctx))

	ctx, id = WithRequestID(nil, "")
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "blank ids are replaced by a generated uuid")
	assert.Equal(t, id, GetRequestID(ctx))

	assert.Empty(t, GetRequestID(context.Background()))
	assert.Empty(t, GetRequestID(nil))
}

func TestFromContextAnnotatesRequestID(t *testing.T) {
	buf := captureBaseLogger(t)

	ctx, _ := WithRequestID(context.Background(), "req-7")
	logger := FromContext(ctx)
	logger.Info().Str("organization_id", "org-1").Msg("Seat summary served")

	event := decodeEvent(t, buf)
	assert.Equal(t, "req-7", event["request_id"])
	assert.Equal(t, "org-1", event["organization_id"])
	assert.Equal(t, "Seat summary served", event["message"])
}

func TestFromContextPrefersStoredLogger(t *testing.T) {
	base := captureBaseLogger(t)

	var scoped bytes.Buffer
	ctx := WithLogger(context.Background(), zerolog.New(&scoped).With().Str("component", "sweeper").Logger())
	ctx, _ = WithRequestID(ctx, "sweep-1")

	logger := FromContext(ctx)
	logger.Warn().Msg("Trial expired")

	assert.Empty(t, base.String(), "base logger must not receive scoped events")
	event := decodeEvent(t, &scoped)
	assert.Equal(t, "sweeper", event["component"])
	assert.Equal(t, "sweep-1", event["request_id"])
}

func TestFromContextWithoutContextUsesBaseLogger(t *testing.T) {
	buf := captureBaseLogger(t)

	logger := FromContext(nil)
	logger.Info().Msg("Billing control plane listening")

	event := decodeEvent(t, buf)
	assert.NotContains(t, event, "request_id")
}

func TestNewInheritsConfiguredComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)
	Init(Config{Format: "json", Level: "info", Component: "billing-cp"})

	var buf bytes.Buffer
	logger := New("", WithWriter(&buf), WithFields(map[string]any{"organization_id": "org-9"}))
	logger.Info().Msg("Subscription restricted")

	event := decodeEvent(t, &buf)
	assert.Equal(t, "billing-cp", event["component"])
	assert.Equal(t, "org-9", event["organization_id"])

	buf.Reset()
	named := New("webhook", WithWriter(&buf))
	named.Info().Msg("Event applied")
	assert.Equal(t, "webhook", decodeEvent(t, &buf)["component"])
}

func TestAutoFormatFollowsTerminalDetection(t *testing.T) {
	t.Cleanup(resetLoggingState)
	original := isTerminalFn
	t.Cleanup(func() { isTerminalFn = original })

	isTerminalFn = func(int) bool { return true }
	Init(Config{Format: "auto"})
	mu.RLock()
	_, console := baseWriter.(zerolog.ConsoleWriter)
	mu.RUnlock()
	assert.True(t, console, "a terminal gets the console writer")

	isTerminalFn = func(int) bool { return false }
	Init(Config{Format: "auto"})
	mu.RLock()
	defer mu.RUnlock()
	assert.Equal(t, os.Stderr, baseWriter, "pipes get json")
}
