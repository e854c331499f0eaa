package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmshield/llm-shield/internal/config"
	"github.com/llmshield/llm-shield/internal/metrics"
	"github.com/llmshield/llm-shield/internal/middleware"
	"github.com/llmshield/llm-shield/internal/shield"
)

// ShieldHandler runs the full shield pipeline for one client request:
// transform, retry loop, emit. Every request gets its own orchestrator; the
// only shared state is the config manager and the metrics instance.
type ShieldHandler struct {
	config  *config.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewShieldHandler(config *config.Manager, metrics *metrics.Metrics, logger *slog.Logger) *ShieldHandler {
	return &ShieldHandler{
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

func (h *ShieldHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.httpError(w, http.StatusMethodNotAllowed, "only POST is proxied")
		return
	}

	cfg := h.config.Get()
	requestID := middleware.RequestIDFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	h.metrics.RequestReceived()

	transformer := shield.NewTransformer(cfg.ForcedModel)

	payload, terr := transformer.Transform(body)
	if terr != nil {
		h.metrics.RequestResolved(shield.KindMalformedRequest.String())
		h.httpError(w, http.StatusBadRequest, "invalid JSON in request body")

		return
	}

	h.logger.Info("Shielding request",
		"request_id", requestID,
		"bytes", len(payload),
		"input_tokens", h.countInputTokens(string(body)),
		"forced_model", cfg.ForcedModel,
	)

	orch := h.newOrchestrator(cfg)

	buf, serr := orch.Run(r.Context(), payload)
	if serr != nil {
		h.metrics.RequestResolved(serr.Kind.String())

		// Nothing was emitted yet; a gone client just gets silence.
		if r.Context().Err() != nil {
			h.logger.Info("Client disconnected, abandoning request",
				"request_id", requestID,
				"attempts", orch.Attempts(),
			)

			return
		}

		h.logger.Error("Shield gave up",
			"request_id", requestID,
			"kind", serr.Kind.String(),
			"attempts", orch.Attempts(),
			"waited", orch.Waited(),
			"error", serr,
		)
		h.httpError(w, statusForError(serr), "%s", clientMessage(serr))

		return
	}

	h.metrics.RequestResolved("success")
	h.metrics.ResponseReleased(len(buf))

	h.logger.Info("Releasing shielded response",
		"request_id", requestID,
		"bytes", len(buf),
		"attempts", orch.Attempts(),
	)

	emitter := shield.NewEmitter(cfg.EmitChunkBytes, h.logger)
	emitter.Emit(w, buf)
}

func (h *ShieldHandler) newOrchestrator(cfg *config.Config) *shield.Orchestrator {
	fetcher := shield.NewFetcher(cfg.Upstream.Endpoint, cfg.Upstream.APIKey, cfg.Upstream.AuthHeader)
	classifier := shield.NewClassifier(cfg.ErrorMarkers, cfg.MaxBufferBytes, cfg.ReadChunkBytes)

	schedule := shield.Schedule{
		Base:      time.Duration(cfg.Retry.BackoffBaseSeconds) * time.Second,
		Increment: time.Duration(cfg.Retry.BackoffIncrementSeconds) * time.Second,
		Ceiling:   time.Duration(cfg.Retry.BackoffCeilingSeconds) * time.Second,
	}

	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0 // unbounded
	}

	orch := shield.NewOrchestrator(fetcher, classifier, schedule, maxAttempts, h.logger)
	orch.OnAttempt = h.metrics.AttemptStarted
	orch.OnRetry = func(kind shield.Kind, _ time.Duration) {
		h.metrics.RetryScheduled(kind.String())
	}

	return orch
}

// statusForError maps terminal shield failures to client-facing statuses.
// Fatal upstream statuses pass through unchanged so the client can tell
// "upstream refused" from "upstream kept failing transiently".
func statusForError(serr *shield.Error) int {
	switch serr.Kind {
	case shield.KindMalformedRequest:
		return http.StatusBadRequest
	case shield.KindHTTPStatus:
		return serr.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func clientMessage(serr *shield.Error) string {
	switch serr.Kind {
	case shield.KindRetriesExhausted:
		return "proxy failed to get a clean response from the target API"
	case shield.KindHTTPStatus:
		return fmt.Sprintf("target API returned HTTP %d", serr.StatusCode)
	case shield.KindResponseTooLarge:
		return "target API response exceeded the configured buffer cap"
	default:
		return "proxy could not reach the target API"
	}
}

func (h *ShieldHandler) countInputTokens(text string) int {
	tke, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		h.logger.Error("Failed to get tiktoken encoding", "error", err)
		return 0
	}

	return len(tke.Encode(text, nil, nil))
}

func (h *ShieldHandler) httpError(w http.ResponseWriter, code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("HTTP Error", "code", code, "message", msg)
	http.Error(w, msg, code)
}
