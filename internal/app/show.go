package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"flight-deal-scanner/internal/storage"
)

// Show prints recent deal candidates.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show deals")
	}
	defer closeStore()

	return a.show(ctx, store, opts, out)
}

func (a *App) show(ctx context.Context, store storage.DealStore, opts ShowOptions, out io.Writer) error {
	deals, err := store.ListRecentDeals(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(deals) == 0 {
		fmt.Fprintln(out, "no deal candidates found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Detected (UTC)\tRoute\tTier\tPrice\tDiscount%\tZ\tSegment\tScore\tDecision\tMethod\tAirline")

	for _, d := range deals {
		price := d.Fare.Price.StringFixed(2) + " " + d.Fare.Currency
		if d.Synthetic {
			price += " *"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%.1f\t%.2f\t%s\t%d\t%s\t%s\t%s\n",
			d.DetectedAt.UTC().Format(time.RFC3339),
			d.Route.Key(),
			d.Route.Tier,
			price,
			d.DiscountPct,
			d.ZScore,
			d.Segment,
			d.ValidationScore,
			d.Recommendation,
			d.ValidationMethod,
			sanitizeInline(d.Fare.Airline),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
