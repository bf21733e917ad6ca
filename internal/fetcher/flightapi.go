package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"flight-deal-scanner/internal/domain"
)

var (
	// ErrMissingAPIKey is returned when no provider key is configured.
	ErrMissingAPIKey = errors.New("flightapi: api key not configured")
	// ErrNoItineraries is returned when the provider answers with an empty list.
	ErrNoItineraries = errors.New("flightapi: no itineraries")
)

// FlightAPIOptions parameterise the flightapi.io provider.
type FlightAPIOptions struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	MaxItineraries  int
	RateLimitPerSec float64
	RateBurst       int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	UserAgent       string
}

// FlightAPI queries the flightapi.io round-trip endpoint.
type FlightAPI struct {
	opts    FlightAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewFlightAPI constructs the provider with its rate limiter and circuit breaker.
func NewFlightAPI(opts FlightAPIOptions, logger zerolog.Logger) *FlightAPI {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MaxItineraries <= 0 {
		opts.MaxItineraries = 10
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.flightapi.io"
	}

	limit := rate.Inf
	if opts.RateLimitPerSec > 0 {
		limit = rate.Limit(opts.RateLimitPerSec)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}

	f := &FlightAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "flightapi").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(limit, burst),
	}

	failures := opts.BreakerFailures
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "flightapi",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// the provider answered; a rejected request says nothing about its health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoItineraries) || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("provider circuit breaker state changed")
		},
	})
	return f
}

// Name identifies the provider in usage records.
func (f *FlightAPI) Name() string { return "flightapi" }

// Search fetches round-trip itineraries for q.
func (f *FlightAPI) Search(ctx context.Context, q Query) ([]domain.FareSample, error) {
	if strings.TrimSpace(f.opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("flightapi rate limit: %w", err)
	}

	out, err := f.breaker.Execute(func() (interface{}, error) {
		return f.searchWithRetry(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.FareSample), nil
}

func (f *FlightAPI) searchWithRetry(ctx context.Context, q Query) ([]domain.FareSample, error) {
	endpoint := f.roundTripURL(q)

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		fares, err := f.doSearch(ctx, endpoint, q)
		if err == nil {
			return fares, nil
		}
		lastErr = err
		if errors.Is(err, ErrNoItineraries) || isClientError(err) || ctx.Err() != nil {
			break
		}
		if attempt < f.opts.MaxAttempts {
			f.logger.Warn().
				Err(err).
				Str("route", q.Route.Key()).
				Int("attempt", attempt).
				Msg("flightapi attempt failed")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.opts.RetryDelay):
			}
		}
	}
	return nil, lastErr
}

func (f *FlightAPI) roundTripURL(q Query) string {
	parts := []string{
		"roundtrip",
		f.opts.APIKey,
		q.Route.Origin,
		q.Route.Destination,
		q.DepartureDate,
		q.ReturnDate,
		strconv.Itoa(q.Adults),
		strconv.Itoa(q.Children),
		strconv.Itoa(q.Infants),
		q.Cabin,
		q.Currency,
	}
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return f.baseURL + "/" + strings.Join(parts, "/")
}

func (f *FlightAPI) doSearch(ctx context.Context, endpoint string, q Query) ([]domain.FareSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "flightscan/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, redactKey(err, f.opts.APIKey)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var body searchResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode flightapi response: %w", err)
	}
	if len(body.Itineraries) == 0 {
		return nil, ErrNoItineraries
	}
	return body.toFares(q, f.opts.MaxItineraries), nil
}

type searchResponse struct {
	Itineraries []itinerary `json:"itineraries"`
	Legs        []leg       `json:"legs"`
	Segments    []segment   `json:"segments"`
	Carriers    []carrier   `json:"carriers"`
}

type itinerary struct {
	ID             string          `json:"id"`
	LegIDs         []string        `json:"leg_ids"`
	PricingOptions []pricingOption `json:"pricing_options"`
	CheapestPrice  struct {
		Amount float64 `json:"amount"`
	} `json:"cheapest_price"`
}

type pricingOption struct {
	Items []struct {
		URL string `json:"url"`
	} `json:"items"`
}

type leg struct {
	ID         string   `json:"id"`
	Departure  string   `json:"departure"`
	Arrival    string   `json:"arrival"`
	SegmentIDs []string `json:"segment_ids"`
	StopCount  int      `json:"stop_count"`
}

type segment struct {
	ID                    string `json:"id"`
	MarketingFlightNumber string `json:"marketing_flight_number"`
	MarketingCarrierID    int64  `json:"marketing_carrier_id"`
}

type carrier struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

const providerTimeLayout = "2006-01-02T15:04:05"

func (r searchResponse) toFares(q Query, limit int) []domain.FareSample {
	legs := make(map[string]leg, len(r.Legs))
	for _, l := range r.Legs {
		legs[l.ID] = l
	}
	segments := make(map[string]segment, len(r.Segments))
	for _, s := range r.Segments {
		segments[s.ID] = s
	}
	carriers := make(map[int64]string, len(r.Carriers))
	for _, c := range r.Carriers {
		carriers[c.ID] = c.Name
	}

	its := r.Itineraries
	if len(its) > limit {
		its = its[:limit]
	}

	fares := make([]domain.FareSample, 0, len(its))
	for _, it := range its {
		fare := domain.FareSample{
			Price:      decimal.NewFromFloat(it.CheapestPrice.Amount).Round(2),
			Currency:   q.Currency,
			Cabin:      q.Cabin,
			ReturnDate: q.ReturnDate,
			Airline:    "Unknown Airline",
			DeepLink:   fmt.Sprintf("https://www.flightapi.io/booking/%s", q.Route.Key()),
		}
		if len(it.PricingOptions) > 0 && len(it.PricingOptions[0].Items) > 0 && it.PricingOptions[0].Items[0].URL != "" {
			fare.DeepLink = it.PricingOptions[0].Items[0].URL
		}

		var firstSegment *segment
		for i, id := range it.LegIDs {
			l, ok := legs[id]
			if !ok {
				continue
			}
			fare.Stops += l.StopCount
			if i == 0 {
				fare.DepartAt, _ = time.Parse(providerTimeLayout, l.Departure)
				fare.ArriveAt, _ = time.Parse(providerTimeLayout, l.Arrival)
				if len(l.SegmentIDs) > 0 {
					if s, ok := segments[l.SegmentIDs[0]]; ok {
						firstSegment = &s
					}
				}
			}
		}
		if firstSegment != nil {
			fare.FlightNo = firstSegment.MarketingFlightNumber
			if name, ok := carriers[firstSegment.MarketingCarrierID]; ok && name != "" {
				fare.Airline = name
			}
		}
		if fare.Validate() != nil {
			continue
		}
		fares = append(fares, fare)
	}
	return fares
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// StatusError is a non-200 answer from the provider.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("flightapi error (%d)", e.Status)
	}
	return fmt.Sprintf("flightapi error (%d): %s", e.Status, e.Message)
}

// isClientError reports a 4xx other than 429; repeating such a request cannot succeed.
func isClientError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status >= 400 && se.Status < 500 && se.Status != http.StatusTooManyRequests
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return &StatusError{Status: status, Message: apiErr.Message}
		}
		if apiErr.Error != "" {
			return &StatusError{Status: status, Message: apiErr.Error}
		}
	}
	if len(payload) > 0 && len(payload) < 512 {
		return &StatusError{Status: status, Message: strings.TrimSpace(string(payload))}
	}
	return &StatusError{Status: status}
}

// redactKey keeps the api key, which is part of the URL path, out of logged errors.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "***"))
}

var _ Provider = (*FlightAPI)(nil)
