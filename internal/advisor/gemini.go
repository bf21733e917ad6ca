package advisor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Gemini calls the Generative Language generateContent endpoint.
type Gemini struct {
	opts    ClientOptions
	client  *http.Client
	baseURL string
}

// NewGemini constructs the Gemini backend.
func NewGemini(opts ClientOptions) *Gemini {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	if opts.Model == "" {
		opts.Model = "gemini-1.5-flash"
	}
	return &Gemini{opts: opts, client: newHTTPClient(opts.Timeout), baseURL: base}
}

// Family implements Advisor.
func (g *Gemini) Family() string { return FamilyGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate implements Advisor.
func (g *Gemini) Generate(ctx context.Context, prompt string) (Completion, error) {
	if g.opts.APIKey == "" {
		return Completion{}, ErrMissingAPIKey
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.opts.Model), url.QueryEscape(g.opts.APIKey))

	body := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	var resp geminiResponse
	if err := postJSON(ctx, g.client, endpoint, nil, body, &resp); err != nil {
		return Completion{}, fmt.Errorf("gemini generate: %w", redact(err, g.opts.APIKey))
	}
	if len(resp.Candidates) == 0 {
		return Completion{}, fmt.Errorf("gemini generate: no candidates")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return Completion{Text: sb.String(), Tokens: resp.UsageMetadata.TotalTokenCount}, nil
}

func redact(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), key, "***"))
}

var _ Advisor = (*Gemini)(nil)
