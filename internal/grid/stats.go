package grid

// Recompute counts the Present marks in a row.
// Counts are always derived from the marks, never patched incrementally.
func Recompute(marks []Mark) int {
	n := 0
	for _, m := range marks {
		if m == Present {
			n++
		}
	}
	return n
}
