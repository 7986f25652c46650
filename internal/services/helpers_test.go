package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"codeshop/internal/domain"
	"codeshop/internal/events"
	"codeshop/internal/repos"
	"codeshop/internal/services"
)

// recorder keeps published event types in order.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Publish(_ context.Context, e events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.EventType)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fixture struct {
	db       *sqlx.DB
	orders   *services.OrderService
	payments *services.PaymentService
	tickets  *services.TicketService
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	log := zaptest.NewLogger(t)
	rec := &recorder{}
	orders := services.NewOrderService(db, rec, log)
	return &fixture{
		db:       db,
		orders:   orders,
		payments: services.NewPaymentService(db, orders, services.HostedCheckout{BaseURL: "https://pay.test/checkout"}, nil, log),
		tickets:  services.NewTicketService(db, rec, log),
		events:   rec,
	}
}

func (f *fixture) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := repos.NewUserRepo(f.db).ByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	n, err := repos.NewInventoryRepo(f.db).CountAvailable(context.Background(), productID)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := repos.NewLedgerRepo(f.db).Balance(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (f *fixture) reload(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := repos.NewOrderRepo(f.db).Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// counter reads one series from the default prometheus registry; a series
// that was never touched reads as zero.
func counter(t *testing.T, series string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		name, value, ok := strings.Cut(line, " ")
		if !ok || name != series {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			t.Fatalf("parse %s: %v", line, err)
		}
		return v
	}
	return 0
}
