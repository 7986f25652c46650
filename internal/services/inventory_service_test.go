package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
	"codeshop/internal/services"
)

func newInventory(t *testing.T) *services.InventoryService {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return services.NewInventoryService(repos.NewInventoryRepo(db), repos.NewProductRepo(db), zaptest.NewLogger(t))
}

func TestCheckAvailabilityStatuses(t *testing.T) {
	s := newInventory(t)
	ctx := context.Background()

	cases := map[string]string{
		"steam-key-001":  "IN_STOCK",
		"office-lic-001": "LOW_STOCK",
		"vpn-annual":     "ON_REQUEST",
		"retro-key-old":  "OUT_OF_STOCK",
	}
	for id, want := range cases {
		a, err := s.CheckAvailability(ctx, id)
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if a.Status != want {
			t.Fatalf("%s: want %s, got %s (qty %d)", id, want, a.Status, a.Qty)
		}
	}
	if _, err := s.CheckAvailability(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown product: want ErrNotFound, got %v", err)
	}
}

func TestUploadCodes(t *testing.T) {
	s := newInventory(t)
	ctx := context.Background()

	n, err := s.Upload(ctx, "office-lic-001", "OFF-4-XYZ\n\n  login=ops;password=hunter2  \n")
	if err != nil || n != 2 {
		t.Fatalf("upload: n=%d err=%v", n, err)
	}
	a, _ := s.CheckAvailability(ctx, "office-lic-001")
	if a.Qty != 5 || a.Status != "IN_STOCK" {
		t.Fatalf("after upload: %+v", a)
	}

	var ve *domain.ValidationError
	if _, err := s.Upload(ctx, "vpn-annual", "X"); !errors.As(err, &ve) {
		t.Fatalf("manual product: want validation error, got %v", err)
	}
	if _, err := s.Upload(ctx, "office-lic-001", " \n \n"); !errors.As(err, &ve) {
		t.Fatalf("empty upload: want validation error, got %v", err)
	}
	if _, err := s.Upload(ctx, "office-lic-001", strings.Repeat("K\n", 5001)); !errors.As(err, &ve) {
		t.Fatalf("oversized upload: want validation error, got %v", err)
	}

	rows, err := s.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.ProductID == "office-lic-001" && r.Available != 5 {
			t.Fatalf("summary available = %d", r.Available)
		}
	}
}
