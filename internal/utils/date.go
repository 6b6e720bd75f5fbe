package utils

import (
	"time"
)

// FileTimestamp formats t for use inside file names.
func FileTimestamp(t time.Time) string {
	return t.Format("2006-01-02_15-04-05")
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
