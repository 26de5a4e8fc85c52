package timeparser

import (
	"fmt"
	"time"
)

// ParseReadingTimestamp parses an ISO-8601 device timestamp. Timestamps
// without a zone are taken as UTC.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,          // 2025-10-26T14:00:00.123-03:00
		time.RFC3339,              // 2025-10-26T14:00:00-03:00
		"2006-01-02T15:04:05.999", // no zone, fractional seconds
		"2006-01-02T15:04:05",     // no zone
		"2006-01-02 15:04:05",     // space separated, as some firmware sends it
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
