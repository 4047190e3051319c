package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autofill/internal/resilience"
	"github.com/sells-group/autofill/pkg/anthropic"
)

// AnthropicProvider generates answers with Claude models.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider wraps an anthropic.Client.
func NewAnthropicProvider(client anthropic.Client, model string) *AnthropicProvider {
	return &AnthropicProvider{client: client, model: model}
}

// Name implements Provider.
func (a *AnthropicProvider) Name() string { return "anthropic" }

// Generate implements Provider.
func (a *AnthropicProvider) Generate(ctx context.Context, req Request) (string, error) {
	msgReq := anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.Message{{Role: "user", Content: req.Prompt}},
	}
	if sys := req.Instructions(); sys != "" {
		msgReq.System = anthropic.CachedSystem(sys)
	}

	resp, err := a.client.CreateMessage(ctx, msgReq)
	if err != nil {
		return "", resilience.ClassifyStatus(eris.Wrap(err, "provider: anthropic generate"), anthropic.StatusCode(err))
	}
	resp.Usage.Log(a.model, req.Purpose)
	return resp.Text(), nil
}
