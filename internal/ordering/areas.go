package ordering

// Area is one entry of a processor's area configuration.
type Area struct {
	Name         string  `json:"name"`
	DisplayOrder int     `json:"display_order"`
	Description  string  `json:"description,omitempty"`
}

// ReorderAreas splices the area at index from out of the list, reinserts it
// at index to, and reassigns display_order contiguously 1..N. The input slice
// is not modified. Out-of-range indexes return the input sequence unchanged
// (but still normalized to 1..N).
func ReorderAreas(areas []Area, from, to int) []Area {
	next := make([]Area, len(areas))
	copy(next, areas)

	if from >= 0 && from < len(next) && to >= 0 && to < len(next) && from != to {
		moved := next[from]
		next = append(next[:from], next[from+1:]...)
		rest := make([]Area, 0, len(areas))
		rest = append(rest, next[:to]...)
		rest = append(rest, moved)
		rest = append(rest, next[to:]...)
		next = rest
	}

	return SequenceAreas(next)
}

// SequenceAreas returns a copy with display_order reassigned 1..N in slice
// order.
func SequenceAreas(areas []Area) []Area {
	next := make([]Area, len(areas))
	copy(next, areas)
	for i := range next {
		next[i].DisplayOrder = i + 1
	}
	return next
}
