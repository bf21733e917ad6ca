package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/fetcher"
	"flight-deal-scanner/internal/scanner"
	"flight-deal-scanner/internal/storage"
)

// SimulateDeal runs one scan cycle over a single route whose fare batch carries
// a planted outlier, then prints the resulting candidates. Candidates go through
// the configured alert channels, so an enabled Telegram bot receives them.
func (a *App) SimulateDeal(ctx context.Context, opts SimulateOptions, out io.Writer) error {
	return a.simulateDeal(ctx, opts, time.Now().UTC(), out)
}

func (a *App) simulateDeal(ctx context.Context, opts SimulateOptions, now time.Time, out io.Writer) error {
	if opts.DiscountPct <= 0 || opts.DiscountPct >= 100 {
		return errors.New("--discount must be between 0 and 100")
	}
	if opts.Fares < 6 {
		opts.Fares = 6
	}

	tier := domain.Tier(opts.Tier)
	if tier == 0 {
		tier = domain.Tier1
	}
	route := domain.Route{
		Origin:                 strings.ToUpper(opts.Origin),
		Destination:            strings.ToUpper(opts.Destination),
		Tier:                   tier,
		BaseScanFrequencyHours: tier.DefaultFrequencyHours(),
		EstimatedCallsPerScan:  1,
		Active:                 true,
		Remarks:                "simulated",
	}
	if err := route.Validate(); err != nil {
		return err
	}

	store := storage.NewMemoryStore()
	if _, err := store.UpsertRoute(ctx, route); err != nil {
		return err
	}

	st, err := a.buildWith(store, func() {}, &plantedFetcher{discountPct: opts.DiscountPct, count: opts.Fares})
	if err != nil {
		return err
	}
	defer st.Close()

	cycle, err := st.scanner.Tick(ctx, now)
	if err != nil {
		return err
	}
	printCycle(out, cycle)
	fmt.Fprintln(out)
	return a.show(ctx, store, ShowOptions{Limit: 50}, out)
}

// plantedFetcher returns a tight fare cluster with one fare discounted by discountPct.
type plantedFetcher struct {
	discountPct float64
	count       int
}

func (p *plantedFetcher) Fetch(_ context.Context, q fetcher.Query) fetcher.Result {
	template := fetcher.Synthesizer{}.Generate(q)
	base := template[len(template)/2].PriceFloat()

	fares := make([]domain.FareSample, 0, p.count)
	for i := 0; i < p.count-1; i++ {
		fare := template[i%len(template)]
		spread := 1 + 0.01*float64(i%5-2)
		fare.Price = decimal.NewFromFloat(base * spread).Round(2)
		fares = append(fares, fare)
	}
	deal := template[0]
	deal.Price = decimal.NewFromFloat(base * (1 - p.discountPct/100)).Round(2)
	fares = append(fares, deal)

	return fetcher.Result{Fares: fares}
}

var _ scanner.Fetcher = (*plantedFetcher)(nil)
