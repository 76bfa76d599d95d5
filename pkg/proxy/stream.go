package proxy

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vermittler-dev/vermittler/pkg/usage"
)

// streamScanBuffer bounds a single SSE line. Chat completion chunks are
// small, but tool call arguments can grow.
const streamScanBuffer = 1024 * 1024

// streamResponse relays a backend SSE stream to the client line by
// line, flushing after every line so chunks reach the client as soon as
// the backend produces them. While relaying it watches data payloads
// for a usage block; Azure sends usage on the final chunk when the
// client asked for it via stream_options.
func (h *Handler) streamResponse(w http.ResponseWriter, resp *http.Response) (usage.Tokens, bool) {
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)

	var tokens usage.Tokens
	var sawUsage bool

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamScanBuffer)

	for scanner.Scan() {
		line := scanner.Text()

		if _, err := io.WriteString(w, line+"\n"); err != nil {
			slog.Warn("client disconnected during stream", "error", err)
			return tokens, sawUsage
		}
		if canFlush {
			flusher.Flush()
		}

		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok || payload == "[DONE]" {
			continue
		}
		if t, ok := usage.ParseBody([]byte(payload)); ok {
			tokens = t
			sawUsage = true
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("error reading backend stream", "error", err)
	}

	return tokens, sawUsage
}
