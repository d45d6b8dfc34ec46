package domain

import "sort"

// IsAiColumn reports whether entering col arms automatic processing.
func IsAiColumn(col Column) bool {
	return col.AiEnabled
}

// SortColumns orders cols ascending by their order rank, in place.
func SortColumns(cols []Column) {
	sort.Slice(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
}

// NextColumnOnSuccess picks the column a task advances to after a successful
// AI run: the non-AI column with the smallest order greater than the current
// column's order, falling back to the last column of the board. The second
// return value is false when the board has no non-AI column at all, in which
// case routing must no-op and the task stays where it is.
func NextColumnOnSuccess(cols []Column, current Column) (Column, bool) {
	ordered := orderedCopy(cols)
	if !hasManualColumn(ordered) {
		return Column{}, false
	}
	for _, c := range ordered {
		if !c.AiEnabled && c.Order > current.Order {
			return c, true
		}
	}
	return ordered[len(ordered)-1], true
}

// NextColumnOnFailure picks the column a task retreats to after a failed AI
// run: the non-AI column with order zero, or the first column of the board.
// Returns false when the board has no non-AI column.
func NextColumnOnFailure(cols []Column) (Column, bool) {
	ordered := orderedCopy(cols)
	if !hasManualColumn(ordered) {
		return Column{}, false
	}
	for _, c := range ordered {
		if !c.AiEnabled && c.Order == 0 {
			return c, true
		}
	}
	return ordered[0], true
}

func orderedCopy(cols []Column) []Column {
	out := make([]Column, len(cols))
	copy(out, cols)
	SortColumns(out)
	return out
}

func hasManualColumn(cols []Column) bool {
	for _, c := range cols {
		if !c.AiEnabled {
			return true
		}
	}
	return false
}
