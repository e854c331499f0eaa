package shield

import (
	"log/slog"
	"net/http"
)

const DefaultEmitChunkBytes = 8192

// Emitter writes a promoted buffer to the client as one uninterrupted SSE
// stream. By the time Emit runs the upstream interaction is over, so a
// client-side write failure leaves nothing to retry; it is only logged.
type Emitter struct {
	chunkBytes int
	logger     *slog.Logger
}

func NewEmitter(chunkBytes int, logger *slog.Logger) *Emitter {
	if chunkBytes <= 0 {
		chunkBytes = DefaultEmitChunkBytes
	}

	return &Emitter{chunkBytes: chunkBytes, logger: logger}
}

// Emit re-chunks the buffer into fixed-size writes with a flush after each.
// Byte order is preserved exactly; the upstream chunk boundaries are not.
func (e *Emitter) Emit(w http.ResponseWriter, buf []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for off := 0; off < len(buf); off += e.chunkBytes {
		end := off + e.chunkBytes
		if end > len(buf) {
			end = len(buf)
		}

		if _, err := w.Write(buf[off:end]); err != nil {
			e.logger.Warn("Client write failed mid-emit", "error", err, "written", off)
			return
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}
