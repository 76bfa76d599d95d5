// Package proxy implements the OpenAI-compatible gateway surface: it
// accepts chat completion, embedding, and Responses API requests,
// rewrites them for Azure OpenAI, and forwards them to a backend chosen
// by the balancer, failing over when a backend is down.
package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vermittler-dev/vermittler/pkg/auth"
	"github.com/vermittler-dev/vermittler/pkg/balancer"
	"github.com/vermittler-dev/vermittler/pkg/config"
	"github.com/vermittler-dev/vermittler/pkg/observability"
	"github.com/vermittler-dev/vermittler/pkg/usage"
)

// maxBodySize caps request bodies at 10MB.
const maxBodySize = 10 * 1024 * 1024

// Handler proxies OpenAI-compatible requests to Azure OpenAI backends.
type Handler struct {
	balancer *balancer.Balancer
	retry    config.RetryConfig
	recorder usage.Recorder
	client   *http.Client
}

// New creates a proxy handler. The recorder may be usage.Nop{} to
// disable accounting.
func New(b *balancer.Balancer, retry config.RetryConfig, recorder usage.Recorder) *Handler {
	if recorder == nil {
		recorder = usage.Nop{}
	}
	return &Handler{
		balancer: b,
		retry:    retry,
		recorder: recorder,
		client: &http.Client{
			Timeout: retry.Timeout.Std(),
		},
	}
}

// Routes registers the gateway endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("POST /v1/embeddings", h.Embeddings)
	mux.HandleFunc("POST /v1/responses", h.Responses)
	mux.HandleFunc("GET /v1/models", h.Models)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "chat/completions")
}

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "embeddings")
}

// Responses handles POST /v1/responses.
func (h *Handler) Responses(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "responses")
}

// Healthz reports gateway liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Models handles GET /v1/models, listing the configured model names in
// the OpenAI list format.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	type model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	names := h.balancer.Models()
	data := make([]model, 0, len(names))
	for _, name := range names {
		data = append(data, model{ID: name, Object: "model", OwnedBy: "vermittler"})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   data,
	})
}

// handle reads and validates the request body, then forwards it.
func (h *Handler) handle(w http.ResponseWriter, r *http.Request, apiType string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		slog.Error("failed to read request body", "error", err)
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) >= maxBodySize {
		slog.Warn("request body too large", "size", len(body))
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	model := extractModel(body)
	if model == "" {
		writeError(w, http.StatusBadRequest, "model field is required")
		return
	}
	observability.SetModel(r.Context(), model)

	if !h.balancer.HasModel(model) {
		slog.Warn("model not configured", "model", model)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("model %s is not configured", model))
		return
	}

	body = transformRequestBody(body)

	h.forward(w, r, model, body, apiType)
}

// forward attempts the request against the model's backends in failover
// order. Network errors and 5xx responses mark a backend unhealthy and
// move on to the next; 4xx responses pass through to the client since
// retrying a rejected request elsewhere cannot succeed.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, model string, body []byte, apiType string) {
	candidates := h.balancer.Candidates(model)
	if len(candidates) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no backends available")
		return
	}

	maxAttempts := h.retry.MaxAttempts
	if maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		select {
		case <-r.Context().Done():
			slog.Info("request cancelled by client", "model", model)
			return
		default:
		}

		if i > 0 {
			observability.FailoversTotal.WithLabelValues(model).Inc()
		}

		backend := candidates[i]
		url := targetURL(backend.Config, apiType)

		slog.Info("proxying request",
			"model", model,
			"target_url", url,
			"attempt", i+1,
		)

		start := time.Now()
		resp, err := h.sendToBackend(r, backend.Config, url, body)
		latency := time.Since(start).Seconds()
		observability.BackendLatency.WithLabelValues(backend.Config.Endpoint, model).Observe(latency)

		if err != nil {
			slog.Warn("backend request failed", "target_url", url, "error", err)
			observability.BackendRequestsTotal.WithLabelValues(backend.Config.Endpoint, model, "error").Inc()
			backend.MarkUnhealthy()
			lastErr = err
			continue
		}

		statusClass := strconv.Itoa(resp.StatusCode/100) + "xx"
		observability.BackendRequestsTotal.WithLabelValues(backend.Config.Endpoint, model, statusClass).Inc()

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
			resp.Body.Close()
			slog.Warn("backend returned server error",
				"target_url", url,
				"status", resp.StatusCode,
				"body", string(respBody),
			)
			backend.MarkUnhealthy()
			lastErr = fmt.Errorf("backend returned status %d", resp.StatusCode)
			continue
		}

		backend.MarkHealthy()

		subject := "anonymous"
		if id := auth.IdentityFromContext(r.Context()); id != nil {
			subject = id.Subject
		}

		if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
			tokens, ok := h.streamResponse(w, resp)
			if ok {
				h.recordUsage(r, subject, model, apiType, tokens, true)
			}
			return
		}

		tokens, ok := h.copyResponse(w, resp)
		if ok {
			h.recordUsage(r, subject, model, apiType, tokens, false)
		}
		return
	}

	slog.Error("all backends failed", "model", model, "error", lastErr)
	detail := "no attempts made"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	writeError(w, http.StatusServiceUnavailable, "all backends failed: "+detail)
}

// sendToBackend builds and executes the upstream request. Client
// credentials are stripped and replaced with the backend's key.
func (h *Handler) sendToBackend(r *http.Request, backend config.Backend, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating backend request: %w", err)
	}

	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	// Never forward the client's credentials upstream.
	req.Header.Del("Authorization")
	req.Header.Del("x-api-key")
	req.Header.Set("api-key", backend.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	return h.client.Do(req)
}

// copyResponse relays a non-streaming backend response to the client
// and extracts token usage from the body.
func (h *Handler) copyResponse(w http.ResponseWriter, resp *http.Response) (usage.Tokens, bool) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("failed to read backend response", "error", err)
		writeError(w, http.StatusBadGateway, "failed to read backend response")
		return usage.Tokens{}, false
	}

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	if resp.StatusCode != http.StatusOK {
		return usage.Tokens{}, false
	}
	return usage.ParseBody(body)
}

// recordUsage stores a usage record and updates the token counters.
// Recording failures are logged; the response has already been sent.
func (h *Handler) recordUsage(r *http.Request, subject, model, apiType string, tokens usage.Tokens, streamed bool) {
	observability.TokensTotal.WithLabelValues(model, "input").Add(float64(tokens.Prompt))
	observability.TokensTotal.WithLabelValues(model, "output").Add(float64(tokens.Completion))

	rec := usage.Record{
		Time:             time.Now(),
		Subject:          subject,
		Model:            model,
		Endpoint:         apiType,
		PromptTokens:     tokens.Prompt,
		CompletionTokens: tokens.Completion,
		TotalTokens:      tokens.Total,
		Streamed:         streamed,
	}
	if err := h.recorder.Record(r.Context(), rec); err != nil {
		slog.Error("failed to record usage", "error", err, "model", model)
	}
}

// writeError sends an OpenAI-style error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"type":    errorType(status),
		},
	})
}

func errorType(status int) string {
	if status >= 500 {
		return "server_error"
	}
	return "invalid_request_error"
}
