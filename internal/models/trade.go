package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

type Currency string

const (
	USD Currency = "USD"
	RUB Currency = "RUB"
)

// ParseCurrency accepts the ISO code and the spellings users type in chat.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usd", "$", "usdt", "dollar", "доллар":
		return USD, nil
	case "rub", "₽", "руб", "rur", "рубль":
		return RUB, nil
	default:
		return "", fmt.Errorf("unknown currency %q, expected USD or RUB", s)
	}
}

func (c Currency) Symbol() string {
	switch c {
	case USD:
		return "$"
	case RUB:
		return "₽"
	default:
		return string(c)
	}
}

// Formula names the profit computation a record was produced with.
type Formula string

const (
	FormulaVolume    Formula = "volume"
	FormulaPrincipal Formula = "principal"
)

func ParseFormula(s string) (Formula, error) {
	switch Formula(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormulaVolume:
		return FormulaVolume, nil
	case FormulaPrincipal:
		return FormulaPrincipal, nil
	default:
		return "", fmt.Errorf("invalid profit formula %q, expected volume|principal", s)
	}
}

// TradeRecord is one completed arbitrage cycle. It is never modified after
// it has been appended to the ledger.
type TradeRecord struct {
	ID         string          `json:"id"`
	OwnerID    int64           `json:"ownerId"`
	OccurredOn time.Time       `json:"occurredOn"`
	Exchange   string          `json:"exchange"`
	BuyRate    decimal.Decimal `json:"buyRate"`
	SellRate   decimal.Decimal `json:"sellRate"`
	Volume     decimal.Decimal `json:"volume"`
	Principal  decimal.Decimal `json:"principal"`
	Currency   Currency        `json:"currency"`
	Expenses   decimal.Decimal `json:"expenses"`
	SpreadPct  decimal.Decimal `json:"spreadPct"`
	Profit     decimal.Decimal `json:"profit"`
	Formula    Formula         `json:"formula"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Day returns OccurredOn as YYYY-MM-DD.
func (t TradeRecord) Day() string {
	return t.OccurredOn.Format(DateLayout)
}

// DateOf strips the clock from ts, keeping the calendar date as seen in ts's location.
func DateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD or DD.MM.YYYY.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or DD.MM.YYYY", s)
}

type User struct {
	OwnerID   int64     `json:"ownerId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}
