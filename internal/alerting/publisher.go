// Package alerting hands validated deal candidates to persistence and delivery channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

// Channel names accepted in alerting.channels.
const (
	ChannelStore    = "store"
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// Publisher receives every validated candidate, SEND and HOLD alike.
type Publisher interface {
	Publish(ctx context.Context, deal domain.DealCandidate) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, deal domain.DealCandidate) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, deal domain.DealCandidate) error {
	return f(ctx, deal)
}

// StorePublisher persists candidates and opens an outcome row for each one sent.
type StorePublisher struct {
	deals    storage.DealStore
	outcomes storage.OutcomeStore
}

// NewStorePublisher constructs the persistence channel.
func NewStorePublisher(deals storage.DealStore, outcomes storage.OutcomeStore) *StorePublisher {
	return &StorePublisher{deals: deals, outcomes: outcomes}
}

// Publish implements Publisher.
func (p *StorePublisher) Publish(ctx context.Context, deal domain.DealCandidate) error {
	if err := p.deals.InsertDealCandidate(ctx, deal); err != nil {
		return fmt.Errorf("persist deal candidate: %w", err)
	}
	if !deal.Sendable() || p.outcomes == nil {
		return nil
	}
	if err := p.outcomes.RecordAlertSent(ctx, deal.ID, deal.Segment, deal.DetectedAt); err != nil {
		return fmt.Errorf("record alert sent: %w", err)
	}
	return nil
}

// LogPublisher writes sendable candidates to the log.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher constructs the log channel.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, deal domain.DealCandidate) error {
	if !deal.Sendable() {
		return nil
	}
	p.logger.Info().
		Str("deal_id", deal.ID).
		Str("route", deal.Route.Key()).
		Str("segment", string(deal.Segment)).
		Str("price", deal.Fare.Price.StringFixed(2)).
		Float64("discount_pct", deal.DiscountPct).
		Int("score", deal.ValidationScore).
		Bool("synthetic", deal.Synthetic).
		Msg("deal alert")
	return nil
}

// Fanout publishes to every channel and joins their errors.
type Fanout struct {
	channels []namedPublisher
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// NewFanout returns an empty fan-out.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a channel under name.
func (f *Fanout) Add(name string, pub Publisher) *Fanout {
	f.channels = append(f.channels, namedPublisher{name: name, pub: pub})
	return f
}

// Channels lists registered channel names.
func (f *Fanout) Channels() []string {
	out := make([]string, 0, len(f.channels))
	for _, c := range f.channels {
		out = append(out, c.name)
	}
	return out
}

// Publish implements Publisher. Every channel is attempted even when an earlier one fails.
func (f *Fanout) Publish(ctx context.Context, deal domain.DealCandidate) error {
	var errs []error
	for _, c := range f.channels {
		if err := c.pub.Publish(ctx, deal); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidChannel reports whether name is a known channel.
func ValidChannel(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ChannelStore, ChannelTelegram, ChannelLog:
		return true
	default:
		return false
	}
}

var (
	_ Publisher = (*StorePublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
	_ Publisher = (*Fanout)(nil)
	_ Publisher = PublisherFunc(nil)
)
