package advisor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// OpenAI calls the chat completions endpoint.
type OpenAI struct {
	opts    ClientOptions
	client  *http.Client
	baseURL string
}

// NewOpenAI constructs the OpenAI backend.
func NewOpenAI(opts ClientOptions) *OpenAI {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &OpenAI{opts: opts, client: newHTTPClient(opts.Timeout), baseURL: base}
}

// Family implements Advisor.
func (o *OpenAI) Family() string { return FamilyGPT }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate implements Advisor.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (Completion, error) {
	if o.opts.APIKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	body := chatRequest{
		Model:       o.opts.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.opts.APIKey}

	var resp chatResponse
	if err := postJSON(ctx, o.client, o.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return Completion{}, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai generate: no choices")
	}
	return Completion{Text: resp.Choices[0].Message.Content, Tokens: resp.Usage.TotalTokens}, nil
}

var _ Advisor = (*OpenAI)(nil)
