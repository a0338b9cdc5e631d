package util

import "fmt"

// MaxErrorMessageLen caps error messages before they are persisted to
// error_message columns or written to logs.
const MaxErrorMessageLen = 512

// Truncate shortens s to MaxErrorMessageLen, noting the original size.
func Truncate(s string) string {
	return TruncateTo(s, MaxErrorMessageLen)
}

// TruncateTo shortens s to maxLen, noting the original size.
func TruncateTo(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
