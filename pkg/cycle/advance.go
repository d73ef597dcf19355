package cycle

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the storage and attribute format for calendar dates
const DateLayout = "2006-01-02"

// semiMonthDays is the fixed length of one SemiMonth unit
const semiMonthDays = 15

// genericUnitDays holds units accepted by the "+N unit" fallback in AdvanceRaw
var genericUnitDays = map[string]int{
	"fortnight":  14,
	"fortnights": 14,
}

// Date truncates t to its calendar date in UTC
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate formats a date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays returns the date n days after t
func AddDays(t time.Time, n int) time.Time {
	return Date(t).AddDate(0, 0, n)
}

// AdvanceDate moves base forward by frequency billing periods.
//
// Month and Year advancement clamp to the last day of the resulting month, so
// Jan 31 + 1 month is the last day of February rather than early March.
func AdvanceDate(base time.Time, period Period, frequency int) (time.Time, error) {
	if frequency < 1 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidFrequency, frequency)
	}

	base = Date(base)
	switch period {
	case Day:
		return base.AddDate(0, 0, frequency), nil
	case Week:
		return base.AddDate(0, 0, 7*frequency), nil
	case Month:
		return addMonthsClamped(base, frequency), nil
	case Year:
		return addMonthsClamped(base, 12*frequency), nil
	case SemiMonth:
		return base.AddDate(0, 0, max(1, frequency*semiMonthDays)), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(period))
	}
}

// AdvanceRaw normalizes a stored period string and advances base by it.
// Strings that are not a known period are tried as a generic "+N unit" addition.
func AdvanceRaw(base time.Time, rawPeriod string, frequency int) (time.Time, error) {
	period, err := ParsePeriod(rawPeriod)
	if err == nil {
		return AdvanceDate(base, period, frequency)
	}

	days, ok := genericUnitDays[strings.ToLower(strings.TrimSpace(rawPeriod))]
	if !ok {
		return time.Time{}, err
	}
	if frequency < 1 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidFrequency, frequency)
	}
	return Date(base).AddDate(0, 0, days*frequency), nil
}

// addMonthsClamped adds n months keeping the day of month when it exists
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := daysInMonth(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
