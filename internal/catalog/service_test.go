package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:catalog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	for _, kind := range Kinds() {
		table, err := kind.Table()
		if err != nil {
			t.Fatalf("unexpected kind error: %v", err)
		}
		if err := db.Table(table).AutoMigrate(&ReferenceValue{}); err != nil {
			t.Fatalf("failed to migrate %s: %v", table, err)
		}
	}

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1709290000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct catalog service: %v", err)
	}
	return service
}

func TestParseKind(t *testing.T) {
	for _, raw := range []string{"cell_line", "event_type", "vessel", "location", "cell_type", "culture_medium"} {
		kind, err := ParseKind(raw)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", raw, err)
		}
		if string(kind) != raw {
			t.Fatalf("unexpected kind %q", kind)
		}
	}

	if _, err := ParseKind("cryo_box"); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected ErrUnknownReferenceKind, got %v", err)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Add(ctx, KindCellLine, " BIHi005-A-24 "); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := service.Add(ctx, KindCellLine, "BIHi005-A-24"); err != nil {
		t.Fatalf("repeat add must succeed, got %v", err)
	}

	names, err := service.List(ctx, KindCellLine)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 1 || names[0] != "BIHi005-A-24" {
		t.Fatalf("expected single trimmed value, got %v", names)
	}
}

func TestAddRequiresName(t *testing.T) {
	service := newTestService(t)

	if err := service.Add(context.Background(), KindVessel, "   "); !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
}

func TestListSortsByName(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"T75", "6-well plate", "T25"} {
		if err := service.Add(ctx, KindVessel, name); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	names, err := service.List(ctx, KindVessel)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"6-well plate", "T25", "T75"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected order %v", names)
		}
	}
}

func TestKindsAreIsolated(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Add(ctx, KindCellType, "iPSC"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	media, err := service.List(ctx, KindCultureMedium)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(media) != 0 {
		t.Fatalf("expected empty media catalog, got %v", media)
	}
}

func TestRenameMovesValue(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Add(ctx, KindLocation, "Incubator A"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := service.Rename(ctx, KindLocation, "Incubator A", "Incubator A, Shelf 2"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	names, err := service.List(ctx, KindLocation)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Incubator A, Shelf 2" {
		t.Fatalf("expected renamed value, got %v", names)
	}

	// Renaming something absent changes nothing and succeeds.
	if err := service.Rename(ctx, KindLocation, "Incubator Z", "Incubator Q"); err != nil {
		t.Fatalf("absent rename must succeed, got %v", err)
	}
}

func TestDeleteRemovesValue(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if err := service.Add(ctx, KindEventType, "Karyotyping"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := service.Delete(ctx, KindEventType, "Karyotyping"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := service.Delete(ctx, KindEventType, "Karyotyping"); err != nil {
		t.Fatalf("second delete must succeed, got %v", err)
	}

	names, err := service.List(ctx, KindEventType)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected empty catalog, got %v", names)
	}
}

func TestUnknownKindIsRefusedEverywhere(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	bogus := Kind("freezer_rack")

	if _, err := service.List(ctx, bogus); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected ErrUnknownReferenceKind from list, got %v", err)
	}
	if err := service.Add(ctx, bogus, "x"); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected ErrUnknownReferenceKind from add, got %v", err)
	}
	if err := service.Rename(ctx, bogus, "x", "y"); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected ErrUnknownReferenceKind from rename, got %v", err)
	}
	if err := service.Delete(ctx, bogus, "x"); !errors.Is(err, ErrUnknownReferenceKind) {
		t.Fatalf("expected ErrUnknownReferenceKind from delete, got %v", err)
	}
}
