package repos_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// insertOrder satisfies the access_codes foreign key.
func insertOrder(t *testing.T, db *sqlx.DB, id string) {
	t.Helper()
	p, err := repos.NewProductRepo(db).Get(context.Background(), "steam-key-001")
	if err != nil {
		t.Fatal(err)
	}
	o := domain.NewOrder(id, "u-alice", p, 1, decimal.Zero, nil, time.Now().UTC())
	if err := repos.NewOrderRepo(db).Insert(context.Background(), o); err != nil {
		t.Fatal(err)
	}
}

func TestReserveReleaseDeliver(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	inv := repos.NewInventoryRepo(db)
	insertOrder(t, db, "o-1")
	now := time.Now().UTC()

	ids, err := inv.Reserve(ctx, "steam-key-001", "o-1", 3, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("reserved %d", len(ids))
	}
	if n, _ := inv.CountAvailable(ctx, "steam-key-001"); n != 5 {
		t.Fatalf("available = %d", n)
	}

	released, err := inv.Release(ctx, "o-1")
	if err != nil || released != 3 {
		t.Fatalf("released = %d err = %v", released, err)
	}
	codes, _ := inv.ListForOrder(ctx, "o-1")
	if len(codes) != 0 {
		t.Fatalf("codes still linked: %+v", codes)
	}

	if _, err := inv.Reserve(ctx, "steam-key-001", "o-1", 2, now); err != nil {
		t.Fatal(err)
	}
	sold, err := inv.Deliver(ctx, "o-1", now)
	if err != nil || len(sold) != 2 {
		t.Fatalf("sold = %v err = %v", sold, err)
	}
	if released, _ := inv.Release(ctx, "o-1"); released != 0 {
		t.Fatal("sold codes must not be released")
	}
	codes, _ = inv.ListForOrder(ctx, "o-1")
	for _, c := range codes {
		if c.Status != domain.CodeSold || c.SoldAt == nil || !c.Consistent() {
			t.Fatalf("code after delivery: %+v", c)
		}
	}
}

func TestReserveIsAllOrNothing(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	insertOrder(t, db, "o-2")

	err := repos.WithTx(ctx, db, func(tx *sqlx.Tx) error {
		_, err := repos.NewInventoryRepo(tx).Reserve(ctx, "office-lic-001", "o-2", 4, time.Now().UTC())
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("want ErrInsufficientStock, got %v", err)
	}
	inv := repos.NewInventoryRepo(db)
	if n, _ := inv.CountAvailable(ctx, "office-lic-001"); n != 3 {
		t.Fatalf("available = %d, want untouched 3", n)
	}
	if n, _ := inv.CountForOrder(ctx, "o-2", domain.CodeReserved); n != 0 {
		t.Fatalf("partial reservation: %d", n)
	}
}

func TestReserveFIFOAndBulkInsert(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	inv := repos.NewInventoryRepo(db)
	insertOrder(t, db, "o-3")

	n, err := inv.BulkInsert(ctx, "office-lic-001", []map[string]string{
		domain.ParseCodePayload("login=a@b.test; password=pw"),
		{},
		domain.ParseCodePayload("RAW-KEY"),
	}, time.Now().UTC().Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("inserted %d err %v", n, err)
	}
	if _, err := inv.Reserve(ctx, "office-lic-001", "o-3", 4, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	codes, _ := inv.ListForOrder(ctx, "o-3")
	last := codes[len(codes)-1]
	if last.Payload["login"] != "a@b.test" || last.Payload["password"] != "pw" {
		t.Fatalf("oldest codes should go first; last = %+v", last.Payload)
	}

	rows, err := inv.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.ProductID == "office-lic-001" && (r.Available != 1 || r.Reserved != 4) {
			t.Fatalf("summary = %+v", r)
		}
	}
}

func TestCountAvailableMany(t *testing.T) {
	db := openDB(t)
	got, err := repos.NewInventoryRepo(db).CountAvailableMany(context.Background(),
		[]string{"steam-key-001", "stream-acct-001", "vpn-annual"})
	if err != nil {
		t.Fatal(err)
	}
	if got["steam-key-001"] != 8 || got["stream-acct-001"] != 6 || got["vpn-annual"] != 0 {
		t.Fatalf("counts = %v", got)
	}
}
