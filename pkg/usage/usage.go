// Package usage defines token usage accounting for proxied requests.
// Recorders receive one record per completed request; implementations
// decide where records go (in-memory ring, PostgreSQL, or nowhere).
package usage

import (
	"context"
	"encoding/json"
	"time"
)

// Record captures the token usage of a single proxied request.
type Record struct {
	// Time is when the request completed.
	Time time.Time `json:"time"`

	// Subject is the authenticated caller the usage is attributed to.
	Subject string `json:"subject"`

	// Model is the model name from the request body.
	Model string `json:"model"`

	// Endpoint is the API surface that served the request, for example
	// "chat/completions" or "embeddings".
	Endpoint string `json:"endpoint"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`

	// Streamed marks records whose usage came from the final chunk of
	// an SSE stream.
	Streamed bool `json:"streamed"`
}

// Recorder persists usage records.
type Recorder interface {
	// Record stores one usage record. Implementations must not block
	// the request path for long; failures are logged, not surfaced to
	// clients.
	Record(ctx context.Context, rec Record) error

	// Close releases resources held by the recorder.
	Close()
}

// Nop discards all records.
type Nop struct{}

func (Nop) Record(context.Context, Record) error { return nil }
func (Nop) Close()                               {}

// Tokens is the usage block of an OpenAI-compatible response.
type Tokens struct {
	Prompt     int64
	Completion int64
	Total      int64
}

// tokenPayload covers both the chat/embeddings usage shape
// (prompt_tokens/completion_tokens) and the Responses API shape
// (input_tokens/output_tokens).
type tokenPayload struct {
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		InputTokens      int64 `json:"input_tokens"`
		OutputTokens     int64 `json:"output_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// ParseBody extracts the usage block from a response body or SSE data
// payload. Returns false if the payload has no usage block.
func ParseBody(body []byte) (Tokens, bool) {
	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Usage == nil {
		return Tokens{}, false
	}

	u := payload.Usage
	t := Tokens{
		Prompt:     u.PromptTokens,
		Completion: u.CompletionTokens,
		Total:      u.TotalTokens,
	}
	if t.Prompt == 0 && u.InputTokens > 0 {
		t.Prompt = u.InputTokens
	}
	if t.Completion == 0 && u.OutputTokens > 0 {
		t.Completion = u.OutputTokens
	}
	if t.Total == 0 {
		t.Total = t.Prompt + t.Completion
	}

	if t.Prompt == 0 && t.Completion == 0 && t.Total == 0 {
		return Tokens{}, false
	}
	return t, true
}
