package arbitrage

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kjannette/p2p-ledger/internal/models"
)

var ErrZeroBuyRate = errors.New("buy rate must be non-zero")

var hundred = decimal.NewFromInt(100)

// Input holds the raw figures of one buy-then-sell cycle.
type Input struct {
	BuyRate   decimal.Decimal
	SellRate  decimal.Decimal
	Volume    decimal.Decimal
	Principal decimal.Decimal
	Expenses  decimal.Decimal
}

// Result carries full-precision derived values. Round only for display.
type Result struct {
	SpreadPct decimal.Decimal
	Profit    decimal.Decimal
	Formula   models.Formula
}

// Spread returns (sell - buy) / buy * 100.
func Spread(buy, sell decimal.Decimal) (decimal.Decimal, error) {
	if buy.IsZero() {
		return decimal.Zero, ErrZeroBuyRate
	}
	return sell.Sub(buy).Div(buy).Mul(hundred), nil
}

// Calculate derives spread and profit.
//
// FormulaVolume:    profit = (sell - buy) * volume - expenses
// FormulaPrincipal: profit = principal * spread / 100 - expenses
//
// The two are not interchangeable when volume != principal; a deployment
// picks one and every record stores which one produced it.
func Calculate(in Input, f models.Formula) (Result, error) {
	spread, err := Spread(in.BuyRate, in.SellRate)
	if err != nil {
		return Result{}, err
	}

	var profit decimal.Decimal
	switch f {
	case models.FormulaVolume, "":
		f = models.FormulaVolume
		profit = in.SellRate.Sub(in.BuyRate).Mul(in.Volume)
	case models.FormulaPrincipal:
		profit = in.Principal.Mul(spread).Div(hundred)
	default:
		return Result{}, fmt.Errorf("unknown profit formula %q", f)
	}

	return Result{
		SpreadPct: spread,
		Profit:    profit.Sub(in.Expenses),
		Formula:   f,
	}, nil
}

// Convert applies an exchange rate to an amount.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}

// Display rounds to two decimals and always renders two fraction digits.
func Display(d decimal.Decimal) string {
	return d.StringFixed(2)
}
