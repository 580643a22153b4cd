package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient はOpenAIのChat Completions APIを使うCompleter。
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient はOpenAIClientを生成する。
func NewOpenAIClient(opts Options) *OpenAIClient {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(opts.RequestTimeout),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(reqOpts...)
	model := opts.Model
	if model == "" {
		model = openai.ChatModelGPT3_5Turbo
	}
	return &OpenAIClient{client: &client, model: model}
}

// Model は使用しているモデル識別子を返す。
func (c *OpenAIClient) Model() string {
	return c.model
}

// Complete はチャット補完を1回呼び出し、最初の選択肢の本文を返す。
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

var _ Completer = (*OpenAIClient)(nil)
