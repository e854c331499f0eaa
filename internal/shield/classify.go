package shield

import (
	"bytes"
	"io"
)

const DefaultReadChunkBytes = 8192

// Outcome is the result of one attempt: a complete clean buffer, or a
// classified failure. A buffer is only ever promoted whole; a failed attempt
// contributes nothing to the final response.
type Outcome struct {
	Buffer  []byte
	Failure *Error
}

func (o Outcome) Success() bool {
	return o.Failure == nil
}

// Classifier accumulates an attempt's body in memory while scanning the
// accumulated text for known error markers.
type Classifier struct {
	markers    [][]byte
	maxBytes   int64
	chunkBytes int
}

func NewClassifier(markers []string, maxBytes int64, chunkBytes int) *Classifier {
	if chunkBytes <= 0 {
		chunkBytes = DefaultReadChunkBytes
	}

	raw := make([][]byte, 0, len(markers))
	for _, m := range markers {
		if m != "" {
			raw = append(raw, []byte(m))
		}
	}

	return &Classifier{
		markers:    raw,
		maxBytes:   maxBytes,
		chunkBytes: chunkBytes,
	}
}

// Collect drains the attempt stream into a fresh buffer. After every chunk
// the whole accumulated buffer is rescanned, so a marker split across chunk
// boundaries is still found. A clean end of body is the completion marker;
// any read error before that is a transport abort.
func (c *Classifier) Collect(r io.Reader) Outcome {
	var buf bytes.Buffer

	chunk := make([]byte, c.chunkBytes)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])

			if c.maxBytes > 0 && int64(buf.Len()) > c.maxBytes {
				return Outcome{Failure: errorf(KindResponseTooLarge, nil,
					"buffered %d bytes, cap is %d", buf.Len(), c.maxBytes)}
			}

			if marker := c.scan(buf.Bytes()); marker != "" {
				return Outcome{Failure: errorf(KindErrorMarker, nil,
					"upstream sent error marker %q mid-stream", marker)}
			}
		}

		if err == io.EOF {
			return Outcome{Buffer: buf.Bytes()}
		}

		if err != nil {
			return Outcome{Failure: errorf(KindTransportAbort, err,
				"upstream closed after %d bytes without completing", buf.Len())}
		}
	}
}

func (c *Classifier) scan(accumulated []byte) string {
	for _, m := range c.markers {
		if bytes.Contains(accumulated, m) {
			return string(m)
		}
	}

	return ""
}
