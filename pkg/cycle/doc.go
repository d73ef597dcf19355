// Package cycle provides the calendar arithmetic used to schedule recurring charges.
//
// # Overview
//
// Every function here is pure: the caller supplies "today" explicitly and nothing
// reads the wall clock. Dates are UTC calendar dates (midnight, no time component).
//
// # Periods
//
// Free-text billing periods coming from storage are normalized once with ParsePeriod:
//
//	p, err := cycle.ParsePeriod("Monthly") // cycle.Month
//	base, err := cycle.ParseDate("2025-01-31")
//	next, err := cycle.AdvanceDate(base, p, 1) // 2025-02-28
//
// SemiMonth is an approximation: it always advances frequency*15 days (minimum one
// day) rather than landing on the 1st and 15th. Stored schedules depend on that
// exact arithmetic, so it must not be "fixed".
//
// # Card expiry
//
// IsCardExpired interprets the four character MMYY token stored with a saved card.
// Malformed tokens are reported as not expired together with ErrInvalidExpiry so the
// caller can log them without blocking the charge.
package cycle
