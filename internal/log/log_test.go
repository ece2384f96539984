package log

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "", want: "info"},
		{in: "debug", want: "debug"},
		{in: "WARNING", want: "warn"},
		{in: "trace", want: "trace"},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, SetLogLevel(tt.in))
			assert.Equal(t, tt.want, GetLogLevel())
		})
	}
	require.NoError(t, SetLogLevel("info"))
}

func TestCtxVariantsAttachSpanIDs(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	LogInfoCtx(ctx, "auth", "callback handled", map[string]any{"state": "signed_in"})

	out := buf.String()
	assert.Contains(t, out, "trace_id=4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Contains(t, out, "span_id=00f067aa0ba902b7")
	assert.Contains(t, out, "component=auth")
}

func TestWithFieldsWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	LogWarnWithFields("storage", "decode failed", map[string]any{"key": "@aptos/account"})

	out := buf.String()
	assert.Contains(t, out, "decode failed")
	assert.NotContains(t, out, "trace_id")
}
