package culture

import (
	"context"
	"fmt"
	"testing"
)

func TestGenerateThawIDWorkedExample(t *testing.T) {
	service, _ := newTestService(t, nil)

	thawID, err := service.GenerateThawID(context.Background(), "BIHi005-A-24", "Jane Doe", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thawID != "TH-20240301-BIHI005A24-JD-01" {
		t.Fatalf("unexpected thaw id %q", thawID)
	}
}

func TestGenerateThawIDIncrementsPerPrefix(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	seedEntry(t, db, LogEntry{
		Date: "2024-03-01", CellLine: "BIHi005-A-24", EventType: EventTypeThawing,
		Vessel: "6-well plate", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
		Operator: "Jane Doe", ThawID: "TH-20240301-BIHI005A24-JD-01", CreatedBy: "jane",
	})

	thawID, err := service.GenerateThawID(ctx, "BIHi005-A-24", "Jane Doe", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thawID != "TH-20240301-BIHI005A24-JD-02" {
		t.Fatalf("expected suffix 02, got %q", thawID)
	}

	// Different operator, same day and line: an independent sequence.
	other, err := service.GenerateThawID(ctx, "BIHi005-A-24", "Sam Lee", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other != "TH-20240301-BIHI005A24-SL-01" {
		t.Fatalf("expected fresh sequence for other operator, got %q", other)
	}
}

func TestGenerateThawIDPlaceholderFallbacks(t *testing.T) {
	service, _ := newTestService(t, nil)

	thawID, err := service.GenerateThawID(context.Background(), "***", "  ", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thawID != "TH-20240301-CELL-OP-01" {
		t.Fatalf("expected placeholder tokens, got %q", thawID)
	}
}

func TestGenerateThawIDSuffixWidensPastNinetyNine(t *testing.T) {
	service, db := newTestService(t, nil)

	for i := 1; i <= 99; i++ {
		seedEntry(t, db, LogEntry{
			Date: "2024-03-01", CellLine: "K7", EventType: EventTypeThawing,
			Vessel: "T25", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
			Operator: "Jane Doe", ThawID: fmt.Sprintf("TH-20240301-K7-JD-%02d", i), CreatedBy: "jane",
		})
	}

	thawID, err := service.GenerateThawID(context.Background(), "K7", "Jane Doe", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if thawID != "TH-20240301-K7-JD-100" {
		t.Fatalf("expected unpadded suffix past 99, got %q", thawID)
	}
}

func TestGenerateThawIDRejectsInvalidDate(t *testing.T) {
	service, _ := newTestService(t, nil)

	if _, err := service.GenerateThawID(context.Background(), "K7", "Jane Doe", "03/01/2024"); err == nil {
		t.Fatalf("expected invalid date to be refused")
	}
}

func TestCellLineToken(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"BIHi005-A-24", "BIHI005A24"},
		{"AICS-0023", "AICS0023"},
		{"k7", "K7"},
		{"***", "CELL"},
		{"", "CELL"},
	}
	for _, tc := range cases {
		if got := cellLineToken(tc.input); got != tc.want {
			t.Fatalf("cellLineToken(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestOperatorInitials(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"Jane Doe", "JD"},
		{"jane doe smith", "JD"},
		{"Anna-Maria", "AM"},
		{"cher", "C"},
		{"", "OP"},
		{"   ", "OP"},
		{"- -", "OP"},
	}
	for _, tc := range cases {
		if got := operatorInitials(tc.input); got != tc.want {
			t.Fatalf("operatorInitials(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestLatestThawIDForCellLine(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	latest, err := service.LatestThawIDForCellLine(ctx, "BIHi005-A-24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != "" {
		t.Fatalf("expected no thaw id for fresh line, got %q", latest)
	}

	seedEntry(t, db, LogEntry{
		Date: "2024-02-01", CellLine: "BIHi005-A-24", EventType: EventTypeThawing,
		Vessel: "T25", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
		Operator: "Jane Doe", ThawID: "TH-20240201-BIHI005A24-JD-01", CreatedBy: "jane",
	})
	seedEntry(t, db, LogEntry{
		Date: "2024-03-01", CellLine: "BIHi005-A-24", EventType: EventTypeThawing,
		Vessel: "T25", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
		Operator: "Jane Doe", ThawID: "TH-20240301-BIHI005A24-JD-01", CreatedBy: "jane",
	})
	// Observations never drive the latest-thaw lookup.
	seedEntry(t, db, LogEntry{
		Date: "2024-03-10", CellLine: "BIHi005-A-24", EventType: EventTypeObservation,
		Vessel: "T25", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
		Operator: "Jane Doe", ThawID: "TH-20240201-BIHI005A24-JD-01", CreatedBy: "jane",
	})

	latest, err = service.LatestThawIDForCellLine(ctx, "BIHi005-A-24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != "TH-20240301-BIHI005A24-JD-01" {
		t.Fatalf("expected newest thaw id, got %q", latest)
	}
}

func TestDistinctThawIDsSorted(t *testing.T) {
	service, db := newTestService(t, nil)

	for _, id := range []string{"TH-20240301-K7-JD-02", "TH-20240201-K7-JD-01", "TH-20240301-K7-JD-02", ""} {
		seedEntry(t, db, LogEntry{
			Date: "2024-03-01", CellLine: "K7", EventType: EventTypeObservation,
			Vessel: "T25", Location: "Incubator A", Medium: "StemFlex", CellType: "iPSC",
			Operator: "Jane Doe", ThawID: id, CreatedBy: "jane",
		})
	}

	ids, err := service.DistinctThawIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"TH-20240201-K7-JD-01", "TH-20240301-K7-JD-02"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d distinct ids, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("unexpected id order %v", ids)
		}
	}
}
