package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
)

var (
	shortStay = setOf("MAD", "BCN", "AGP", "PMI", "IBZ", "VLC", "SVQ", "TFS", "TFN", "LPA", "ACE", "FUE",
		"BIO", "XRY", "MAH", "LIS", "OPO", "FAO", "FNC", "PDL")
	mediumStay = setOf("LHR", "AMS", "FCO", "BER", "VIE", "BUD", "CMN", "RAK", "TUN", "ALG", "FES", "OUD", "AGA")
)

func setOf(codes ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}

// MinStayDays is the default trip length used when no return date is given.
func MinStayDays(destination string) int {
	if _, ok := shortStay[destination]; ok {
		return 5
	}
	if _, ok := mediumStay[destination]; ok {
		return 7
	}
	return 10
}

// PriceFetcherOptions wires the collaborators of a PriceFetcher.
type PriceFetcherOptions struct {
	Provider Provider
	Cache    Cache
	Recorder UsageRecorder
	// DefaultLeadDays is used when a query has no departure date.
	DefaultLeadDays int
	// SyntheticFlashFares enables planted error fares in synthetic batches.
	SyntheticFlashFares bool
	Now                 func() time.Time
}

// PriceFetcher is the boundary that always yields fares: live, cached or synthetic.
type PriceFetcher struct {
	provider  Provider
	cache     Cache
	recorder  UsageRecorder
	synth     Synthesizer
	leadDays  int
	now       func() time.Time
	logger    zerolog.Logger
	onOutcome func(provider string, res Result)
}

// NewPriceFetcher constructs the fetch boundary.
func NewPriceFetcher(opts PriceFetcherOptions, logger zerolog.Logger) *PriceFetcher {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	lead := opts.DefaultLeadDays
	if lead <= 0 {
		lead = 7
	}
	return &PriceFetcher{
		provider: opts.Provider,
		cache:    opts.Cache,
		recorder: opts.Recorder,
		synth:    Synthesizer{FlashFares: opts.SyntheticFlashFares},
		leadDays: lead,
		now:      now,
		logger:   logger.With().Str("component", "price_fetcher").Logger(),
	}
}

// OnOutcome registers a hook observing every fetch, used for metrics.
func (p *PriceFetcher) OnOutcome(fn func(provider string, res Result)) {
	p.onOutcome = fn
}

// Normalize fills query defaults: departure, min-stay return, passengers, cabin, currency.
func (p *PriceFetcher) Normalize(q Query) Query {
	if q.DepartureDate == "" {
		q.DepartureDate = p.now().AddDate(0, 0, p.leadDays).Format(dateLayout)
	}
	if q.ReturnDate == "" {
		if dep, err := time.Parse(dateLayout, q.DepartureDate); err == nil {
			q.ReturnDate = dep.AddDate(0, 0, MinStayDays(q.Route.Destination)).Format(dateLayout)
		}
	}
	if q.Adults <= 0 {
		q.Adults = 1
	}
	if q.Cabin == "" {
		q.Cabin = "Economy"
	}
	if q.Currency == "" {
		q.Currency = "EUR"
	}
	return q
}

// Fetch never fails: provider errors are absorbed into a synthetic result.
func (p *PriceFetcher) Fetch(ctx context.Context, q Query) Result {
	q = p.Normalize(q)
	start := p.now()
	providerName := "synthetic"
	if p.provider != nil {
		providerName = p.provider.Name()
	}

	res := p.fetch(ctx, q)
	res.Latency = p.now().Sub(start)

	rec := domain.CallUsageRecord{
		Provider:     providerName,
		Endpoint:     "/roundtrip/" + q.Route.Key(),
		RouteID:      q.Route.ID,
		RouteKey:     q.Route.Key(),
		Success:      res.Cause == nil,
		Synthetic:    res.Synthetic,
		CacheHit:     res.CacheHit,
		Latency:      res.Latency,
		ResultsCount: len(res.Fares),
		CreatedAt:    p.now(),
	}
	if res.Cause != nil {
		rec.Error = res.Cause.Error()
	}
	if p.recorder != nil {
		// a cancelled pass still owes its ledger entry
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := p.recorder.AppendCallUsage(recordCtx, rec); err != nil {
			res.RecordErr = err
			p.logger.Error().Err(err).Str("route", q.Route.Key()).Msg("record call usage failed")
		}
		cancel()
	}

	if p.onOutcome != nil {
		p.onOutcome(providerName, res)
	}
	return res
}

func (p *PriceFetcher) fetch(ctx context.Context, q Query) Result {
	if p.cache != nil {
		fares, ok, err := p.cache.Get(ctx, q)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Str("route", q.Route.Key()).Msg("fare cache read failed")
		case ok:
			return Result{Fares: fares, CacheHit: true}
		}
	}

	cause := errors.New("no live provider configured")
	if p.provider != nil {
		fares, err := p.provider.Search(ctx, q)
		if err == nil && len(fares) > 0 {
			if p.cache != nil {
				if cerr := p.cache.Set(ctx, q, fares); cerr != nil {
					p.logger.Warn().Err(cerr).Str("route", q.Route.Key()).Msg("fare cache write failed")
				}
			}
			return Result{Fares: fares}
		}
		cause = err
		if cause == nil {
			cause = ErrNoItineraries
		}
	}

	p.logger.Debug().
		Err(cause).
		Str("route", q.Route.Key()).
		Str("departure", q.DepartureDate).
		Msg("falling back to synthetic fares")
	return Result{
		Fares:     p.synth.Generate(q),
		Synthetic: true,
		Cause:     cause,
	}
}
