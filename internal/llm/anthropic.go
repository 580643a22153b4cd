package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient はAnthropicのMessages APIを使うCompleter。
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient はAnthropicClientを生成する。
func NewAnthropicClient(opts Options) *AnthropicClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(opts.RequestTimeout),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(reqOpts...)
	model := opts.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicClient{client: &client, model: model}
}

// Model は使用しているモデル識別子を返す。
func (c *AnthropicClient) Model() string {
	return c.model
}

// Complete はメッセージを1回送信し、テキストブロックを連結して返す。
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	content := strings.TrimSpace(b.String())
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

var _ Completer = (*AnthropicClient)(nil)
