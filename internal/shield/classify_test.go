package shield

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader yields its chunks one Read at a time, then ends with err.
type chunkedReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		return 0, io.EOF
	}

	n := copy(p, r.chunks[0])

	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}

	return n, nil
}

func markers() []string {
	return []string{`"code":"too_many_requests"`, `"error":`}
}

func TestClassifier_CleanStreamSucceeds(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\ndata: [DONE]\n\n"
	c := NewClassifier(markers(), 0, 16)

	outcome := c.Collect(strings.NewReader(body))

	require.True(t, outcome.Success())
	assert.Equal(t, body, string(outcome.Buffer), "the full buffer is promoted byte for byte")
}

func TestClassifier_MarkerInSingleChunk(t *testing.T) {
	c := NewClassifier(markers(), 0, 0)

	outcome := c.Collect(strings.NewReader(`data: {"error":{"message":"boom"}}`))

	require.False(t, outcome.Success())
	assert.Equal(t, KindErrorMarker, outcome.Failure.Kind)
	assert.True(t, outcome.Failure.Retryable())
	assert.Nil(t, outcome.Buffer, "a failed attempt promotes nothing")
}

func TestClassifier_MarkerSplitAcrossChunks(t *testing.T) {
	marker := `"code":"too_many_requests"`

	// Half the marker in one chunk, half in the next.
	r := &chunkedReader{chunks: [][]byte{
		[]byte(`data: {` + marker[:11]),
		[]byte(marker[11:] + `}`),
	}}

	c := NewClassifier([]string{marker}, 0, 1024)

	outcome := c.Collect(r)

	require.False(t, outcome.Success())
	assert.Equal(t, KindErrorMarker, outcome.Failure.Kind)
}

func TestClassifier_MarkerInFinalBytes(t *testing.T) {
	// An otherwise clean-looking stream that ends with an error envelope
	// must still be discarded.
	r := &chunkedReader{chunks: [][]byte{
		[]byte("data: {\"choices\":[{\"delta\":{\"content\":\"fine so far\"}}]}\n\n"),
		[]byte(`{"error":{"code":"server_error"}}`),
	}}

	c := NewClassifier(markers(), 0, 1024)

	outcome := c.Collect(r)

	require.False(t, outcome.Success())
	assert.Equal(t, KindErrorMarker, outcome.Failure.Kind)
}

func TestClassifier_TruncationIsRetryable(t *testing.T) {
	r := &chunkedReader{
		chunks: [][]byte{[]byte("data: {\"choices\":[]}\n\n")},
		err:    io.ErrUnexpectedEOF,
	}

	c := NewClassifier(markers(), 0, 1024)

	outcome := c.Collect(r)

	require.False(t, outcome.Success())
	assert.Equal(t, KindTransportAbort, outcome.Failure.Kind)
	assert.True(t, outcome.Failure.Retryable())
}

func TestClassifier_BufferCap(t *testing.T) {
	c := NewClassifier(markers(), 64, 16)

	outcome := c.Collect(strings.NewReader(strings.Repeat("x", 1024)))

	require.False(t, outcome.Success())
	assert.Equal(t, KindResponseTooLarge, outcome.Failure.Kind)
	assert.False(t, outcome.Failure.Retryable(), "an oversized response will not shrink on retry")
}

func TestClassifier_NegativeCapMeansUnlimited(t *testing.T) {
	c := NewClassifier(markers(), -1, 16)

	body := strings.Repeat("x", 4096)

	outcome := c.Collect(strings.NewReader(body))

	require.True(t, outcome.Success())
	assert.Equal(t, body, string(outcome.Buffer))
}

func TestClassifier_EmptyMarkersIgnored(t *testing.T) {
	c := NewClassifier([]string{""}, 0, 16)

	outcome := c.Collect(strings.NewReader("anything at all"))

	require.True(t, outcome.Success())
}
