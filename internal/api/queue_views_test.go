package api

import "testing"

func TestSortJobsNewestFirst(t *testing.T) {
	items := []JobItem{
		{ID: "old", Seq: 1, CreatedAt: "2026-01-01T00:00:00.000Z"},
		{ID: "new", Seq: 3, CreatedAt: "2026-02-01T00:00:00.000Z"},
		{ID: "tie", Seq: 2, CreatedAt: "2026-01-01T00:00:00.000Z"},
		{ID: "unknown", Seq: 4},
	}
	sorted := SortJobsNewestFirst(items)
	want := []string{"new", "tie", "old", "unknown"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, sorted[i].ID, id)
		}
	}
	if items[0].ID != "old" {
		t.Fatal("input slice must not be reordered")
	}
	if SortJobsNewestFirst(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestParseJobTime(t *testing.T) {
	if !ParseJobTime("").IsZero() {
		t.Fatal("empty string should parse to zero time")
	}
	if ParseJobTime("2026-01-01T00:00:00.123Z").IsZero() {
		t.Fatal("expected millisecond timestamp to parse")
	}
	if !ParseJobTime("yesterday").IsZero() {
		t.Fatal("garbage should parse to zero time")
	}
}
