// Package stats summarizes ledger records by period.
package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/p2p-ledger/internal/models"
)

// Summary is a full-precision aggregate. Round only when presenting.
type Summary struct {
	Period    models.Period
	Count     int
	Losses    int
	Profit    map[models.Currency]decimal.Decimal
	AvgSpread decimal.Decimal
}

// Currencies lists the currencies with a profit total, sorted.
func (s Summary) Currencies() []models.Currency {
	out := make([]models.Currency, 0, len(s.Profit))
	for c := range s.Profit {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rounded returns a copy with every figure rounded to two decimals.
func (s Summary) Rounded() Summary {
	r := s
	r.Profit = make(map[models.Currency]decimal.Decimal, len(s.Profit))
	for c, v := range s.Profit {
		r.Profit[c] = v.Round(2)
	}
	r.AvgSpread = s.AvgSpread.Round(2)
	return r
}

// Filter keeps the records that fall in period. today is a calendar date.
func Filter(records []models.TradeRecord, period models.Period, today time.Time) []models.TradeRecord {
	if period != models.PeriodToday {
		return records
	}
	day := models.DateOf(today).Format(models.DateLayout)
	out := make([]models.TradeRecord, 0, len(records))
	for _, r := range records {
		if r.Day() == day {
			out = append(out, r)
		}
	}
	return out
}

// Aggregate sums profit per currency, counts trades and losses and averages
// the spread. Empty input yields zeros.
func Aggregate(records []models.TradeRecord, period models.Period, today time.Time) Summary {
	s := Summary{
		Period:    period,
		Profit:    make(map[models.Currency]decimal.Decimal),
		AvgSpread: decimal.Zero,
	}

	spreadSum := decimal.Zero
	for _, r := range Filter(records, period, today) {
		s.Count++
		if r.Profit.IsNegative() {
			s.Losses++
		}
		s.Profit[r.Currency] = s.Profit[r.Currency].Add(r.Profit)
		spreadSum = spreadSum.Add(r.SpreadPct)
	}

	if s.Count > 0 {
		s.AvgSpread = spreadSum.Div(decimal.NewFromInt(int64(s.Count)))
	}
	return s
}
