package domain

import "time"

// TimestampLayout renders the hour:minute clock shown next to each turn.
var TimestampLayout = "03:04 PM"

// FormatTimestamp returns the display clock for t in its own location.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
