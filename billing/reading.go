/*
reading.go - Period validation and per-reading derived figures

PURPOSE:
  Small pure helpers shared by every reading workflow: period sanity
  checks and the dashboard-facing figures (daily average, consumption
  alert) derived from a single reading.
*/
package billing

import "time"

// ValidatePeriod checks that a billing period is well formed: start not
// after end, and end not in the future.
func ValidatePeriod(start, end time.Time, today time.Time) error {
	if start.After(end) {
		return ErrInvalidPeriod
	}
	return ValidateNotFuture(end, today)
}

// ValidateNotFuture rejects dates after today. Comparison is on the
// calendar day, so a reading entered later the same day is fine.
func ValidateNotFuture(date, today time.Time) error {
	d := truncateToDay(date)
	t := truncateToDay(today)
	if d.After(t) {
		return ErrFutureDate
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DailyAverage spreads a period's consumption over its day count.
// A non-positive day count yields zero rather than a division error.
func DailyAverage(consumption float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return consumption / float64(days)
}

// ThresholdAlert reports whether consumption reached the user's alert
// threshold. A nil threshold means alerts are disabled.
func ThresholdAlert(consumption float64, threshold *float64) bool {
	if threshold == nil {
		return false
	}
	return consumption >= *threshold
}
