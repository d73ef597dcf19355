package cycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPeriod is returned for billing periods that cannot be mapped to a unit
	ErrInvalidPeriod = errors.New("invalid billing period")
	// ErrInvalidFrequency is returned when a billing frequency is below one
	ErrInvalidFrequency = errors.New("invalid billing frequency")
	// ErrInvalidDate is returned for dates that cannot be parsed
	ErrInvalidDate = errors.New("invalid date")
	// ErrInvalidExpiry is returned for card expiry tokens that are not MMYY
	ErrInvalidExpiry = errors.New("invalid card expiry")
)

// Period is a normalized billing period
type Period string

const (
	Day       Period = "day"
	Week      Period = "week"
	Month     Period = "month"
	Year      Period = "year"
	SemiMonth Period = "semimonth"
)

var periodSynonyms = map[string]Period{
	"day":          Day,
	"days":         Day,
	"daily":        Day,
	"week":         Week,
	"weeks":        Week,
	"weekly":       Week,
	"month":        Month,
	"months":       Month,
	"monthly":      Month,
	"year":         Year,
	"years":        Year,
	"yearly":       Year,
	"annual":       Year,
	"annually":     Year,
	"semimonth":    SemiMonth,
	"semi-month":   SemiMonth,
	"semi month":   SemiMonth,
	"semimonthly":  SemiMonth,
	"semi-monthly": SemiMonth,
	"semi monthly": SemiMonth,
	"biweekly":     SemiMonth,
	"bi-weekly":    SemiMonth,
	"bi weekly":    SemiMonth,
}

// ParsePeriod maps a free-text billing period to a Period
func ParsePeriod(raw string) (Period, error) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	if p, ok := periodSynonyms[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
}

// Valid reports whether p is one of the known periods
func (p Period) Valid() bool {
	switch p {
	case Day, Week, Month, Year, SemiMonth:
		return true
	}
	return false
}

func (p Period) String() string {
	return string(p)
}
