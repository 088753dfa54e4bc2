package ordering

import "sort"

// Repeated insertions at the same boundary halve the gap each time and
// asymptotically approach float64 precision. Once the smallest gap in an area
// drops below MinGap, the area is renumbered to multiples of Stride.
const (
	MinGap = 1e-6
	Stride = 1000.0
)

// NeedsRenumber reports whether any adjacent pair of positions is closer
// than MinGap. Positions need not be sorted.
func NeedsRenumber(positions []float64) bool {
	if len(positions) < 2 {
		return false
	}
	sorted := make([]float64, len(positions))
	copy(sorted, positions)
	sort.Float64s(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] < MinGap {
			return true
		}
	}
	return false
}

// Renumber returns the area's operations with positions rewritten to
// multiples of Stride in their current order. Relative order is preserved
// exactly; absolute values change, which is fine because only order is
// meaningful.
func Renumber(areaOps []Operation) []Operation {
	sorted := make([]Operation, len(areaOps))
	copy(sorted, areaOps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	for i := range sorted {
		sorted[i].Position = (float64(i) + 1) * Stride
	}
	return sorted
}
