/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package filter

import "time"

// After matches entities whose property is later than t.
func After(property string, t time.Time) Expr { return Gt(property, t) }

// Before matches entities whose property is earlier than t.
func Before(property string, t time.Time) Expr { return Lt(property, t) }

// Between matches the half-open range [start, end).
func Between(property string, start, end time.Time) Expr {
	return And(Ge(property, start), Lt(property, end))
}

// InLast matches entities whose property falls within d before now.
func InLast(property string, d time.Duration, now time.Time) Expr {
	return Ge(property, now.Add(-d))
}

// SameDay matches the calendar day of now, in now's location.
func SameDay(property string, now time.Time) Expr {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return Between(property, start, start.AddDate(0, 0, 1))
}

// SameWeek matches the ISO week of now, which starts on Monday.
func SameWeek(property string, now time.Time) Expr {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	start := time.Date(now.Year(), now.Month(), now.Day()-weekday+1, 0, 0, 0, 0, now.Location())
	return Between(property, start, start.AddDate(0, 0, 7))
}

// SameMonth matches the calendar month of now.
func SameMonth(property string, now time.Time) Expr {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return Between(property, start, start.AddDate(0, 1, 0))
}

// ModifiedSince matches entities the service stamped after t.
func ModifiedSince(t time.Time) Expr { return Gt(Timestamp, t) }
