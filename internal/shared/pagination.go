package shared

// PerPage clamps a caller-supplied page size into a sane window.
func PerPage(requested, fallback, max int) int {
	if requested <= 0 {
		return fallback
	}
	if requested > max {
		return max
	}
	return requested
}
