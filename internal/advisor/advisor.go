// Package advisor consults an external text-generation model to retune route
// schedules and keeps the cost ledger of those consultations.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Model families priced by the usage ledger.
const (
	FamilyGemini = "gemini"
	FamilyGPT    = "gpt"
)

// ErrMissingAPIKey is returned when the advisor backend has no key.
var ErrMissingAPIKey = errors.New("advisor: api key not configured")

// Completion is one generated answer.
type Completion struct {
	Text string
	// Tokens is the total reported by the backend, zero when it reports nothing.
	Tokens int
}

// Advisor generates text for a prompt.
type Advisor interface {
	// Family is the pricing family of the backing model.
	Family() string
	Generate(ctx context.Context, prompt string) (Completion, error)
}

// ClientOptions configure either HTTP backend.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseHTTPError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Error.Message != "" {
		return fmt.Errorf("advisor error (%d): %s", status, env.Error.Message)
	}
	if len(payload) > 0 && len(payload) < 512 {
		return fmt.Errorf("advisor error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("advisor error (%d)", status)
}
