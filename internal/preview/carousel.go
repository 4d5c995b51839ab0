package preview

// NextIndex advances a carousel of n slides, wrapping to the first.
func NextIndex(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur >= n-1 || cur < 0 {
		return 0
	}
	return cur + 1
}

// PrevIndex steps a carousel of n slides back, wrapping to the last.
func PrevIndex(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur <= 0 || cur >= n {
		return n - 1
	}
	return cur - 1
}
