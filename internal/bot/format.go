package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/kjannette/p2p-ledger/internal/arbitrage"
	"github.com/kjannette/p2p-ledger/internal/models"
	"github.com/kjannette/p2p-ledger/internal/stats"
)

func formatTrade(r models.TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", r.Day())
	fmt.Fprintf(&b, "Exchange: %s\n", r.Exchange)
	fmt.Fprintf(&b, "Buy: %s  Sell: %s\n", r.BuyRate, r.SellRate)
	fmt.Fprintf(&b, "Volume: %s  Principal: %s %s\n", r.Volume, r.Principal, r.Currency.Symbol())
	if !r.Expenses.IsZero() {
		fmt.Fprintf(&b, "Expenses: %s %s\n", arbitrage.Display(r.Expenses), r.Currency.Symbol())
	}
	fmt.Fprintf(&b, "Spread: %s%%\n", arbitrage.Display(r.SpreadPct))
	fmt.Fprintf(&b, "Profit: %s %s", arbitrage.Display(r.Profit), r.Currency.Symbol())
	return b.String()
}

func (d *Dispatcher) formatSaved(ctx context.Context, r models.TradeRecord) string {
	text := "✅ Trade saved\n" + formatTrade(r)

	target := d.opts.ReportCurrency
	if target == "" || target == r.Currency {
		return text
	}
	converted, q := d.engine.Convert(ctx, r.Profit, r.Currency, target)
	if !q.Available() {
		return text + fmt.Sprintf("\n(conversion to %s unavailable)", target)
	}
	return text + fmt.Sprintf("\n≈ %s %s (rate %s, %s)", arbitrage.Display(converted), target.Symbol(), q.Rate.StringFixed(4), q.Source)
}

func formatHistory(recs []models.TradeRecord, period models.Period) string {
	if len(recs) == 0 {
		return fmt.Sprintf("No trades for %s.", period.Label())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 Trades (%s):\n", period.Label())
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s %s→%s vol %s: %s %s (%s%%)\n",
			r.Day(), r.Exchange, r.BuyRate, r.SellRate, r.Volume,
			arbitrage.Display(r.Profit), r.Currency.Symbol(), arbitrage.Display(r.SpreadPct))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatReport(rep stats.Report) string {
	s := rep.Rounded()

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Profit (%s)\n", s.Period.Label())
	fmt.Fprintf(&b, "Trades: %d (losses: %d)\n", s.Count, s.Losses)
	fmt.Fprintf(&b, "Avg spread: %s%%", arbitrage.Display(s.AvgSpread))

	currencies := s.Currencies()
	if len(currencies) == 0 {
		fmt.Fprintf(&b, "\nProfit: 0.00")
		if rep.Target != "" {
			fmt.Fprintf(&b, " %s", rep.Target.Symbol())
		}
	}
	for _, c := range currencies {
		fmt.Fprintf(&b, "\n%s: %s %s", c, arbitrage.Display(s.Profit[c]), c.Symbol())
	}

	switch {
	case rep.Converted && len(currencies) > 0 && !(len(currencies) == 1 && currencies[0] == rep.Target):
		fmt.Fprintf(&b, "\nTotal: %s %s", arbitrage.Display(rep.Total), rep.Target.Symbol())
	case rep.ConversionUnavailable:
		fmt.Fprintf(&b, "\nTotal in %s unavailable (no exchange rate)", rep.Target)
	}
	return b.String()
}
