package domain

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// FormatActiveSince renders how long ago a first contribution happened,
// e.g. "12 d", "4 mo", "2 yr". A nil time renders as "—".
func FormatActiveSince(t *time.Time, now time.Time) string {
	if t == nil {
		return "—"
	}
	days := int(now.Sub(*t) / day)
	if days < 30 {
		return fmt.Sprintf("%d d", days)
	}
	months := days / 30
	if months < 12 {
		return fmt.Sprintf("%d mo", months)
	}
	return fmt.Sprintf("%d yr", months/12)
}

// FormatAccountAge renders the age of an account in whole years.
func FormatAccountAge(createdAt, now time.Time) string {
	return fmt.Sprintf("%d yrs", int(now.Sub(createdAt)/(365*day)))
}
