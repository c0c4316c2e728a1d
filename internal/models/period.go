package models

import (
	"fmt"
	"strings"
)

type Period string

const (
	PeriodToday Period = "today"
	PeriodAll   Period = "all"
)

// ParsePeriod maps a selector to a Period. An empty selector means all time.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "all_time", "alltime", "всё", "все":
		return PeriodAll, nil
	case "today", "day", "сегодня":
		return PeriodToday, nil
	default:
		return "", fmt.Errorf("invalid period %q, expected today|all", s)
	}
}

func (p Period) Label() string {
	if p == PeriodToday {
		return "today"
	}
	return "all time"
}
