// Command embedprobe is a manual diagnostic for an OpenAI-compatible
// embeddings endpoint. It issues one embedding request and prints the
// vector dimensionality and token usage. All parameters are hard-coded;
// edit and rerun.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vermittler-dev/vermittler/pkg/probe"
)

const (
	baseURL = "http://localhost:8080/v1"
	apiKey  = "sk-your-api-key"
	model   = "text-embedding-ada-002"
	input   = "Hello, world!"
)

func main() {
	// Talk to the local gateway directly even when a proxy is configured.
	os.Setenv("NO_PROXY", "localhost,127.0.0.1")

	cfg := probe.EmbeddingConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Input:   input,
	}

	if err := probe.RunEmbedding(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "embedprobe:", err)
		os.Exit(1)
	}
}
