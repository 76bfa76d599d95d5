// Package probe contains manual diagnostic clients for OpenAI-compatible
// endpoints: a chat probe that exercises blocking and streaming chat
// completions, and an embedding probe. They print what they get; any
// transport or protocol error is returned to the caller unwrapped in
// meaning, since these are diagnostic tools rather than production
// clients.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatConfig holds the fixed parameters of a chat probe run.
type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string
}

const banner = "=================================================="

// RunChat performs the two-phase chat probe: one blocking completion,
// then one streamed completion with the same prompt. Output goes to out.
func RunChat(ctx context.Context, cfg ChatConfig, out io.Writer) error {
	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	)

	fmt.Fprintf(out, "基础 URL: %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "模型: %s\n", cfg.Model)
	fmt.Fprintf(out, "提示词: %s\n\n", cfg.Prompt)

	if err := runBlocking(ctx, &client, cfg, out); err != nil {
		return err
	}
	return runStream(ctx, &client, cfg, out)
}

// runBlocking issues one non-streamed completion and prints the echoed
// model, the reply text, and the usage counters.
func runBlocking(ctx context.Context, client *openai.Client, cfg ChatConfig, out io.Writer) error {
	fmt.Fprintln(out, banner)
	fmt.Fprintln(out, "测试阻塞请求")
	fmt.Fprintln(out, banner)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(cfg.Prompt),
		},
	})
	if err != nil {
		return fmt.Errorf("blocking chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("blocking chat completion: no choices returned")
	}

	fmt.Fprintf(out, "模型: %s\n", resp.Model)
	fmt.Fprintf(out, "回复: %s\n", resp.Choices[0].Message.Content)
	fmt.Fprintf(out, "Token 使用: prompt=%d completion=%d total=%d\n\n",
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return nil
}

// runStream issues one streamed completion and prints each non-empty
// text delta as it arrives, flushing per fragment so progress is
// visible while the model generates.
func runStream(ctx context.Context, client *openai.Client, cfg ChatConfig, out io.Writer) error {
	fmt.Fprintln(out, banner)
	fmt.Fprintln(out, "测试流式请求")
	fmt.Fprintln(out, banner)

	stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(cfg.Prompt),
		},
	})

	fmt.Fprint(out, "回复: ")
	flush(out)

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			fmt.Fprint(out, delta)
			flush(out)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("streaming chat completion: %w", err)
	}

	fmt.Fprint(out, "\n\n")
	return nil
}

// flush pushes buffered output through, if out supports it. Raw
// os.Stdout is unbuffered and needs no help.
func flush(out io.Writer) {
	switch w := out.(type) {
	case interface{ Flush() error }:
		w.Flush()
	case http.Flusher:
		w.Flush()
	}
}
