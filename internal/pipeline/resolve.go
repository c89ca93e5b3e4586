package pipeline

// ResolveTarget returns the first candidate, in the given order, that is one
// of columns. When none is, the error is a *TargetColumnError.
func ResolveTarget(candidates, columns []string) (string, error) {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	for _, c := range candidates {
		if present[c] {
			return c, nil
		}
	}
	return "", &TargetColumnError{
		Candidates: append([]string(nil), candidates...),
		Columns:    append([]string(nil), columns...),
	}
}
