package shield

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// Fetcher issues a single upstream attempt and hands the response body back
// as a readable stream. Connections are never reused across attempts: a
// failure may be connection-level, so every attempt dials fresh.
type Fetcher struct {
	endpoint   string
	apiKey     string
	authHeader string
	client     *http.Client
}

func NewFetcher(endpoint, apiKey, authHeader string) *Fetcher {
	if authHeader == "" {
		authHeader = "api-key"
	}

	return &Fetcher{
		endpoint:   endpoint,
		apiKey:     apiKey,
		authHeader: authHeader,
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// Stream is one attempt's response body. Close must be called once the
// attempt resolves, success or not.
type Stream struct {
	StatusCode int
	Body       io.Reader

	raw io.Closer
}

func (s *Stream) Close() error {
	return s.raw.Close()
}

// Fetch opens one connection and returns the response stream. Non-2xx
// statuses and connect failures are classified here; the body content is the
// classifier's concern.
func (f *Fetcher) Fetch(ctx context.Context, payload []byte) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errorf(KindConnect, err, "build upstream request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	f.setCredential(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errorf(KindConnect, err, "upstream request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the log line, then classify on
		// status alone. Body content never changes a status verdict.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		return nil, &Error{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	body, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, errorf(KindTransportAbort, err, "decompress upstream body")
	}

	return &Stream{
		StatusCode: resp.StatusCode,
		Body:       body,
		raw:        resp.Body,
	}, nil
}

func (f *Fetcher) setCredential(req *http.Request) {
	if f.apiKey == "" {
		return
	}

	if strings.EqualFold(f.authHeader, "Authorization") {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
		return
	}

	req.Header.Set(f.authHeader, f.apiKey)
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}
