package proxy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vermittler-dev/vermittler/pkg/config"
)

// extractModel reads the model field from an OpenAI-compatible request body.
func extractModel(body []byte) string {
	var req struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	return req.Model
}

// unsupportedParams lists request parameters Azure OpenAI rejects.
var unsupportedParams = []string{
	"chat_template_kwargs",
	"enable_thinking",
}

// transformRequestBody rewrites an OpenAI-compatible request body for
// Azure OpenAI:
//  1. max_tokens becomes max_completion_tokens (required by newer API
//     versions), unless the caller already set max_completion_tokens
//  2. parameters Azure rejects are removed
//
// Bodies that fail to parse are passed through unchanged; the backend
// produces the error message the client sees.
func transformRequestBody(body []byte) []byte {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return body
	}

	modified := false

	if maxTokens, exists := data["max_tokens"]; exists {
		if _, hasNewParam := data["max_completion_tokens"]; !hasNewParam {
			data["max_completion_tokens"] = maxTokens
			delete(data, "max_tokens")
			slog.Debug("transformed max_tokens to max_completion_tokens", "value", maxTokens)
			modified = true
		}
	}

	for _, param := range unsupportedParams {
		if _, exists := data[param]; exists {
			delete(data, param)
			slog.Debug("removed unsupported parameter", "param", param)
			modified = true
		}
	}

	if !modified {
		return body
	}

	newBody, err := json.Marshal(data)
	if err != nil {
		return body
	}
	return newBody
}

// targetURL maps an API surface to the Azure OpenAI URL for a backend.
//
// Deployment-scoped surfaces (chat/completions, embeddings):
//
//	{endpoint}/openai/deployments/{deployment}/{apiType}?api-version={v}
//
// The Responses API is not deployment-scoped:
//
//	{endpoint}/openai/responses?api-version={v}
func targetURL(backend config.Backend, apiType string) string {
	apiVersion := backend.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultAPIVersion
	}

	endpoint := strings.TrimSuffix(backend.Endpoint, "/")

	if apiType == "responses" {
		return fmt.Sprintf("%s/openai/responses?api-version=%s", endpoint, apiVersion)
	}
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s",
		endpoint, backend.Deployment, apiType, apiVersion)
}
