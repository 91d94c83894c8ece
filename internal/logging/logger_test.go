package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogger(zerolog.Nop()) })

	var buf bytes.Buffer
	require.NoError(t, Configure(&buf, "warn", "json"))

	Info().Msg("dropped")
	Warn().Str("entity", "pet").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "pet", line["entity"])
	assert.Equal(t, "kept", line["message"])
}

func TestConfigureRejectsBadInput(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogger(zerolog.Nop()) })

	assert.Error(t, Configure(nil, "loud", "json"))
	assert.Error(t, Configure(nil, "info", "xml"))
}

func TestWithExecutionTagsContextLogger(t *testing.T) {
	t.Cleanup(func() { SetGlobalLogger(zerolog.Nop()) })

	var buf bytes.Buffer
	SetGlobalLogger(zerolog.New(&buf))

	ctx, l := WithExecution(context.Background(), "exec-1")
	l.Info().Msg("direct")
	Ctx(ctx).Info().Msg("from context")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, raw := range lines {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		assert.Equal(t, "exec-1", line["execution"])
	}
}
