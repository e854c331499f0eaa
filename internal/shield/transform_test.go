package shield

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformer_ForcesStreaming(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "stream absent", body: `{"model":"gpt-a","messages":[]}`},
		{name: "stream false", body: `{"model":"gpt-a","stream":false}`},
		{name: "stream already true", body: `{"model":"gpt-a","stream":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransformer("")

			out, err := tr.Transform([]byte(tt.body))
			require.NoError(t, err)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(out, &payload))

			assert.Equal(t, true, payload["stream"], "stream must be forced true")
		})
	}
}

func TestTransformer_ForcedModelOverride(t *testing.T) {
	tr := NewTransformer("gpt-x")

	out, err := tr.Transform([]byte(`{"model":"gpt-a","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out, &payload))

	assert.Equal(t, "gpt-x", payload["model"], "configured model must replace the client's")

	// Everything else passes through untouched.
	messages, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
}

func TestTransformer_ModelPassthroughWhenNotForced(t *testing.T) {
	tr := NewTransformer("")

	out, err := tr.Transform([]byte(`{"model":"gpt-a"}`))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out, &payload))

	assert.Equal(t, "gpt-a", payload["model"])
}

func TestTransformer_RejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid JSON", body: `{"model":`},
		{name: "JSON array", body: `[1,2,3]`},
		{name: "JSON string", body: `"hello"`},
		{name: "JSON null", body: `null`},
		{name: "empty body", body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTransformer("gpt-x")

			_, err := tr.Transform([]byte(tt.body))
			require.Error(t, err)

			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, KindMalformedRequest, serr.Kind)
			assert.False(t, serr.Retryable(), "malformed requests are never retried")
		})
	}
}

func TestTransformer_OriginalBodyNotMutated(t *testing.T) {
	original := []byte(`{"model":"gpt-a","stream":false}`)
	kept := string(original)

	tr := NewTransformer("gpt-x")

	_, err := tr.Transform(original)
	require.NoError(t, err)

	assert.Equal(t, kept, string(original), "each attempt restarts from the untouched original")
}
