package ordering

import "testing"

func TestReorderAreasContiguous(t *testing.T) {
	areas := []Area{
		{Name: "Extraction", DisplayOrder: 1},
		{Name: "Validation", DisplayOrder: 2},
		{Name: "Rating", DisplayOrder: 3},
		{Name: "Summary", DisplayOrder: 4},
	}

	got := ReorderAreas(areas, 3, 0)

	wantNames := []string{"Summary", "Extraction", "Validation", "Rating"}
	for i, area := range got {
		if area.Name != wantNames[i] {
			t.Fatalf("index %d: got %q, want %q", i, area.Name, wantNames[i])
		}
		if area.DisplayOrder != i+1 {
			t.Fatalf("display_order at %d = %d, want %d", i, area.DisplayOrder, i+1)
		}
	}

	// Input must be untouched.
	if areas[0].Name != "Extraction" || areas[3].DisplayOrder != 4 {
		t.Fatalf("input mutated: %+v", areas)
	}
}

func TestReorderAreasNoDuplicateOrders(t *testing.T) {
	areas := []Area{
		{Name: "A", DisplayOrder: 7},
		{Name: "B", DisplayOrder: 7},
		{Name: "C", DisplayOrder: 2},
	}
	got := ReorderAreas(areas, 0, 2)
	seen := map[int]bool{}
	for _, area := range got {
		if seen[area.DisplayOrder] {
			t.Fatalf("duplicate display_order %d", area.DisplayOrder)
		}
		seen[area.DisplayOrder] = true
	}
	for i := 1; i <= len(got); i++ {
		if !seen[i] {
			t.Fatalf("display_order %d missing from %+v", i, got)
		}
	}
}

func TestReorderAreasOutOfRange(t *testing.T) {
	areas := []Area{{Name: "A", DisplayOrder: 3}, {Name: "B", DisplayOrder: 9}}
	got := ReorderAreas(areas, 5, 0)
	if got[0].Name != "A" || got[1].Name != "B" {
		t.Fatalf("order should be unchanged: %+v", got)
	}
	if got[0].DisplayOrder != 1 || got[1].DisplayOrder != 2 {
		t.Fatalf("orders should still normalize to 1..N: %+v", got)
	}
}
