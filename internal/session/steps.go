package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/p2p-ledger/internal/models"
)

type Field string

const (
	FieldDate      Field = "date"
	FieldExchange  Field = "exchange"
	FieldBuyRate   Field = "buy_rate"
	FieldSellRate  Field = "sell_rate"
	FieldVolume    Field = "volume"
	FieldCurrency  Field = "currency"
	FieldPrincipal Field = "principal"
	FieldExpenses  Field = "expenses"
)

// ValidationError rejects one step's input. The session stays on that step.
type ValidationError struct {
	Field Field
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(f Field, format string, args ...any) error {
	return &ValidationError{Field: f, Msg: fmt.Sprintf(format, args...)}
}

// Draft accumulates validated values while a session walks its flow.
type Draft struct {
	Date      time.Time
	Exchange  string
	BuyRate   decimal.Decimal
	SellRate  decimal.Decimal
	Volume    decimal.Decimal
	Principal decimal.Decimal
	Currency  models.Currency
	Expenses  decimal.Decimal
}

// Step is one prompt of a flow. Apply validates input and writes it into the
// draft, or returns a *ValidationError and leaves the draft untouched.
type Step struct {
	Field   Field
	Prompt  string
	Apply   func(d *Draft, input string, today time.Time) error
	Choices []string // suggested answers, rendered as buttons
}

type Flow []Step

const (
	FlowBasic    = "basic"
	FlowExtended = "extended"
)

var (
	stepDate = Step{FieldDate, "Trade date? (YYYY-MM-DD, DD.MM.YYYY or \"today\")", func(d *Draft, in string, today time.Time) error {
		t, err := ParseDay(in, today)
		if err != nil {
			return invalid(FieldDate, "%v", err)
		}
		d.Date = t
		return nil
	}, []string{"today"}}
	stepExchange = Step{FieldExchange, "Exchange name?", func(d *Draft, in string, _ time.Time) error {
		name := strings.TrimSpace(in)
		if name == "" {
			return invalid(FieldExchange, "exchange name cannot be empty")
		}
		d.Exchange = name
		return nil
	}, nil}
	stepBuy       = amountStep(FieldBuyRate, "Buy rate?", func(d *Draft, v decimal.Decimal) { d.BuyRate = v })
	stepSell      = amountStep(FieldSellRate, "Sell rate?", func(d *Draft, v decimal.Decimal) { d.SellRate = v })
	stepVolume    = amountStep(FieldVolume, "Volume (units traded)?", func(d *Draft, v decimal.Decimal) { d.Volume = v })
	stepPrincipal = amountStep(FieldPrincipal, "Principal (amount invested)?", func(d *Draft, v decimal.Decimal) { d.Principal = v })
	stepCurrency  = Step{FieldCurrency, "Currency of the principal? (USD or RUB)", func(d *Draft, in string, _ time.Time) error {
		c, err := models.ParseCurrency(in)
		if err != nil {
			return invalid(FieldCurrency, "%v", err)
		}
		d.Currency = c
		return nil
	}, []string{"USD", "RUB"}}
	stepExpenses = Step{FieldExpenses, "Expenses / fees? (0 or \"skip\" if none)", func(d *Draft, in string, _ time.Time) error {
		v, err := ParseExpenses(in)
		if err != nil {
			return invalid(FieldExpenses, "%v", err)
		}
		d.Expenses = v
		return nil
	}, []string{"skip"}}
)

func amountStep(f Field, prompt string, set func(*Draft, decimal.Decimal)) Step {
	return Step{Field: f, Prompt: prompt, Apply: func(d *Draft, in string, _ time.Time) error {
		v, err := ParseAmount(in)
		if err != nil {
			return invalid(f, "%v", err)
		}
		set(d, v)
		return nil
	}}
}

func BasicFlow() Flow {
	return Flow{stepExchange, stepBuy, stepSell, stepVolume, stepPrincipal}
}

func ExtendedFlow() Flow {
	return Flow{stepDate, stepExchange, stepBuy, stepSell, stepVolume, stepCurrency, stepPrincipal, stepExpenses}
}

func FlowByName(name string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FlowBasic:
		return BasicFlow(), nil
	case FlowExtended:
		return ExtendedFlow(), nil
	default:
		return nil, fmt.Errorf("unknown session flow %q, expected basic|extended", name)
	}
}

// ParseNumber reads a decimal typed with either '.' or ',' as the separator.
// Spaces (thousands grouping) are ignored.
func ParseNumber(s string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	if clean == "" {
		return decimal.Zero, fmt.Errorf("a number is required")
	}
	v, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", strings.TrimSpace(s))
	}
	return v, nil
}

// ParseAmount is ParseNumber restricted to strictly positive values.
func ParseAmount(s string) (decimal.Decimal, error) {
	v, err := ParseNumber(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("must be greater than zero")
	}
	return v, nil
}

func ParseExpenses(s string) (decimal.Decimal, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-", "0", "skip", "none", "нет":
		return decimal.Zero, nil
	}
	v, err := ParseNumber(s)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("cannot be negative")
	}
	return v, nil
}

// ParseDay accepts "today" / "-" as well as explicit dates.
func ParseDay(s string, today time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-", "today", "сегодня":
		return models.DateOf(today), nil
	}
	return models.ParseDate(s)
}
