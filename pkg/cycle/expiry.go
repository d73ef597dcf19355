package cycle

import (
	"fmt"
	"strconv"
	"time"
)

// IsCardExpired reports whether a MMYY expiry token has passed as of asOf.
//
// A card is expired once the last day of its expiry month is strictly before asOf.
// Malformed tokens return false together with ErrInvalidExpiry.
func IsCardExpired(token string, asOf time.Time) (bool, error) {
	if len(token) != 4 || !allDigits(token) {
		return false, fmt.Errorf("%w: %q", ErrInvalidExpiry, token)
	}
	month, err := strconv.Atoi(token[:2])
	if err != nil || month < 1 || month > 12 {
		return false, fmt.Errorf("%w: %q", ErrInvalidExpiry, token)
	}
	year, err := strconv.Atoi(token[2:])
	if err != nil || year < 0 {
		return false, fmt.Errorf("%w: %q", ErrInvalidExpiry, token)
	}

	lastDay := time.Date(2000+year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
	return lastDay.Before(Date(asOf)), nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
