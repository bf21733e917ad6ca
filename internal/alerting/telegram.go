package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
)

// TelegramPublisher pushes sendable candidates through the Telegram Bot API.
type TelegramPublisher struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramPublisher constructs the Telegram channel.
func NewTelegramPublisher(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramPublisher{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Publish calls sendMessage for SEND candidates and ignores HOLD ones.
func (n *TelegramPublisher) Publish(ctx context.Context, deal domain.DealCandidate) error {
	if !deal.Sendable() {
		return nil
	}
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(deal),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("deal_id", deal.ID).
		Str("route", deal.Route.Key()).
		Str("segment", string(deal.Segment)).
		Msg("deal alert sent (telegram)")
	return nil
}

func renderMessage(deal domain.DealCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Flight Deal] %s\n", deal.Route.Key())
	fmt.Fprintf(&b, "Price: %s %s (-%.1f%%)\n", deal.Fare.Price.StringFixed(2), deal.Fare.Currency, deal.DiscountPct)
	if deal.Fare.Airline != "" {
		fmt.Fprintf(&b, "Airline: %s, %d stop(s)\n", deal.Fare.Airline, deal.Fare.Stops)
	}
	if !deal.Fare.DepartAt.IsZero() {
		fmt.Fprintf(&b, "Departure: %s\n", deal.Fare.DepartAt.Format("2006-01-02 15:04"))
	}
	if deal.Fare.ReturnDate != "" {
		fmt.Fprintf(&b, "Return: %s\n", deal.Fare.ReturnDate)
	}
	fmt.Fprintf(&b, "Segment: %s, score %d (%s)\n", deal.Segment, deal.ValidationScore, strings.ToLower(string(deal.ValidationMethod)))
	if deal.Fare.DeepLink != "" {
		b.WriteString(deal.Fare.DeepLink)
		b.WriteString("\n")
	}
	if deal.Synthetic {
		b.WriteString("(estimated fare)\n")
	}
	return b.String()
}

var _ Publisher = (*TelegramPublisher)(nil)
