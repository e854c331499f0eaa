package shield

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_PreservesByteOrderAcrossRechunking(t *testing.T) {
	// 10000 bytes emitted in 64-byte chunks: boundaries move, bytes don't.
	buf := bytes.Repeat([]byte("0123456789"), 1000)

	emitter := NewEmitter(64, testLogger())
	rec := httptest.NewRecorder()

	emitter.Emit(rec, buf)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, buf, rec.Body.Bytes())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestEmitter_EmptyBuffer(t *testing.T) {
	emitter := NewEmitter(0, testLogger())
	rec := httptest.NewRecorder()

	emitter.Emit(rec, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

type failingWriter struct {
	*httptest.ResponseRecorder
	failAfter int
	written   int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written >= w.failAfter {
		return 0, assert.AnError
	}

	w.written += len(p)

	return w.ResponseRecorder.Write(p)
}

func TestEmitter_SwallowsClientWriteFailure(t *testing.T) {
	emitter := NewEmitter(8, testLogger())
	w := &failingWriter{ResponseRecorder: httptest.NewRecorder(), failAfter: 16}

	// Must not panic or error out; the failure is logged and dropped.
	emitter.Emit(w, bytes.Repeat([]byte("a"), 64))

	assert.Equal(t, 16, w.written)
}
