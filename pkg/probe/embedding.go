package probe

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingConfig holds the fixed parameters of an embedding probe run.
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Input   string
}

// RunEmbedding issues one embedding request and reports the
// dimensionality of the first returned vector plus the usage counters.
func RunEmbedding(ctx context.Context, cfg EmbeddingConfig, out io.Writer) error {
	client := openai.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	)

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(cfg.Model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(cfg.Input),
		},
	})
	if err != nil {
		return fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("embedding request: no vectors returned")
	}

	fmt.Fprintf(out, "Embedding 维度: %d\n", len(resp.Data[0].Embedding))
	fmt.Fprintf(out, "Token 使用: prompt=%d total=%d\n",
		resp.Usage.PromptTokens, resp.Usage.TotalTokens)
	return nil
}
