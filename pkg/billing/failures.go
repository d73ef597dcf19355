package billing

// CountConsecutiveFailures counts failed attempts from the most recent backward,
// stopping at the first attempt that did not fail. history must be ordered most
// recent first.
func CountConsecutiveFailures(history []Attempt) int {
	count := 0
	for _, a := range history {
		if a.Status != StatusFailed {
			break
		}
		count++
	}
	return count
}

// HasReachedMaxAttempts reports whether a failure streak has hit the retry limit
func HasReachedMaxAttempts(count, maxAttempts int) bool {
	return count >= maxAttempts
}

// countCompletedCycles counts charged cycles in history; skipped cycles are not billed
func countCompletedCycles(history []Attempt) int {
	count := 0
	for _, a := range history {
		if a.Status == StatusComplete && !a.Skipped {
			count++
		}
	}
	return count
}
