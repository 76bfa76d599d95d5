// Command chatprobe is a manual diagnostic for an OpenAI-compatible
// chat completions endpoint. It issues one blocking request and one
// streamed request against a locally running gateway and prints what
// comes back. All parameters are hard-coded; edit and rerun.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vermittler-dev/vermittler/pkg/probe"
)

const (
	baseURL = "http://localhost:3000/v1"
	apiKey  = "sk-your-api-key"
	model   = "gpt-4"
	prompt  = "你好，请用一句话介绍自己"
)

func main() {
	// Talk to the local gateway directly even when a proxy is configured.
	os.Setenv("NO_PROXY", "localhost,127.0.0.1")

	cfg := probe.ChatConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Prompt:  prompt,
	}

	if err := probe.RunChat(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "chatprobe:", err)
		os.Exit(1)
	}
}
