package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"codeshop/internal/domain"
	"codeshop/internal/events"
	"codeshop/internal/metrics"
	"codeshop/internal/repos"
)

// OrderService runs the fulfillment flow: reservation, payment, delivery and
// the compensating cancel/refund paths. Every mutation is one transaction;
// events go out only after it commits.
type OrderService struct {
	DB       *sqlx.DB
	Products *repos.ProductRepo
	Inv      *repos.InventoryRepo
	Orders   *repos.OrderRepo
	Promos   *PromoService
	Ledger   *LedgerService
	Events   events.Publisher
	Log      *zap.Logger
	Producer string
	Now      func() time.Time
}

func NewOrderService(db *sqlx.DB, pub events.Publisher, log *zap.Logger) *OrderService {
	orders := repos.NewOrderRepo(db)
	return &OrderService{
		DB:       db,
		Products: repos.NewProductRepo(db),
		Inv:      repos.NewInventoryRepo(db),
		Orders:   orders,
		Promos:   NewPromoService(repos.NewPromoRepo(db), orders),
		Ledger:   NewLedgerService(repos.NewLedgerRepo(db)),
		Events:   pub,
		Log:      log,
		Producer: "codeshop",
		Now:      utcNow,
	}
}

// outboxItem is an event waiting for the transaction to commit.
type outboxItem struct {
	eventType string
	id        string
	payload   any
	// order events also feed the orders counter
	order bool
}

// orderTx is the order flow bound to one transaction.
type orderTx struct {
	s        *OrderService
	tx       *sqlx.Tx
	now      time.Time
	products *repos.ProductRepo
	inv      *repos.InventoryRepo
	orders   *repos.OrderRepo
	promos   *PromoService
	ledger   *LedgerService
	outbox   []outboxItem
	sold     int
}

func (s *OrderService) bind(tx *sqlx.Tx) *orderTx {
	return &orderTx{
		s:        s,
		tx:       tx,
		now:      s.Now(),
		products: s.Products.Tx(tx),
		inv:      s.Inv.Tx(tx),
		orders:   s.Orders.Tx(tx),
		promos:   s.Promos.Tx(tx),
		ledger:   s.Ledger.Tx(tx),
	}
}

func (s *OrderService) inTx(ctx context.Context, fn func(t *orderTx) error) error {
	var t *orderTx
	err := repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		t = s.bind(tx)
		return fn(t)
	})
	if err != nil {
		return err
	}
	s.flush(ctx, t)
	return nil
}

// flush runs after commit, so rolled-back work never reaches events or metrics.
func (s *OrderService) flush(ctx context.Context, t *orderTx) {
	for _, it := range t.outbox {
		if it.order {
			metrics.OrderEvent(it.eventType)
		}
		events.Emit(ctx, s.Events, s.Log, s.Producer, it.eventType, it.id, it.payload)
	}
	if t.sold > 0 {
		metrics.CodesDelivered(t.sold)
	}
}

func (t *orderTx) emit(eventType string, o *domain.Order, reason string) {
	t.outbox = append(t.outbox, outboxItem{eventType: eventType, id: o.ID, order: true, payload: events.OrderPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		NetAmount:     o.NetAmount.StringFixed(2),
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Reason:        reason,
	}})
}

// ---- transaction-scoped steps ----

func (t *orderTx) create(ctx context.Context, userID, productID string, qty int, promoCode string) (*domain.Order, error) {
	p, err := t.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	stock := 0
	if !p.ManualDelivery {
		if stock, err = t.inv.CountAvailable(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	if err := p.CanPurchase(qty, stock); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return nil, fmt.Errorf("%w: %d requested, %d available", err, qty, stock)
		}
		return nil, err
	}

	var promo *string
	var q Quote
	if promoCode != "" {
		if q, err = t.promos.Apply(ctx, promoCode, userID, p, qty); err != nil {
			return nil, err
		}
		promo = &q.Code
	}

	o := domain.NewOrder(uuid.NewString(), userID, p, qty, q.Discount, promo, t.now)
	if err := t.orders.Insert(ctx, o); err != nil {
		return nil, err
	}
	if !p.ManualDelivery {
		if _, err := t.inv.Reserve(ctx, p.ID, o.ID, qty, t.now); err != nil {
			return nil, err
		}
	}
	t.emit(events.OrderCreated, o, "")
	return o, nil
}

// markPaid records the payment; manual-delivery orders move straight to
// pending_delivery. It reports false for an order that was already paid.
func (t *orderTx) markPaid(ctx context.Context, o *domain.Order, method, ref string) (bool, error) {
	changed, err := o.MarkPaid(method, ref, t.now)
	if err != nil || !changed {
		return false, err
	}
	p, err := t.products.Get(ctx, o.ProductID)
	if err != nil {
		return false, err
	}
	if p.ManualDelivery {
		if err := o.AwaitManualDelivery(t.now); err != nil {
			return false, err
		}
	}
	if err := t.orders.Update(ctx, o); err != nil {
		return false, err
	}
	t.emit(events.OrderPaid, o, "")
	if o.Status == domain.StatusPendingDelivery {
		t.emit(events.OrderPendingDelivery, o, "")
	}
	return true, nil
}

// settle marks the order paid and delivers automatic products in the same
// transaction. A stock shortfall at delivery time leaves the order paid and
// processing for staff to resolve.
func (t *orderTx) settle(ctx context.Context, o *domain.Order, method, ref string) (bool, error) {
	changed, err := t.markPaid(ctx, o, method, ref)
	if err != nil || !changed || o.Status != domain.StatusProcessing {
		return changed, err
	}
	if err := t.deliver(ctx, o); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			t.s.Log.Warn("order: paid but stock short at delivery", zap.String("order_id", o.ID), zap.Error(err))
			return true, nil
		}
		return false, err
	}
	return true, nil
}

func (t *orderTx) deliver(ctx context.Context, o *domain.Order) error {
	if err := o.ReadyForDelivery(); err != nil {
		return err
	}
	have, err := t.inv.CountForOrder(ctx, o.ID, domain.CodeReserved)
	if err != nil {
		return err
	}
	if have < o.Quantity {
		if _, err := t.inv.Reserve(ctx, o.ProductID, o.ID, o.Quantity-have, t.now); err != nil {
			return err
		}
	}
	ids, err := t.inv.Deliver(ctx, o.ID, t.now)
	if err != nil {
		return err
	}
	if err := o.CompleteDelivery(ids, t.now); err != nil {
		return err
	}
	if err := t.complete(ctx, o); err != nil {
		return err
	}
	t.sold += len(ids)
	return nil
}

// complete persists a completed order and its counters.
func (t *orderTx) complete(ctx context.Context, o *domain.Order) error {
	if err := t.orders.Update(ctx, o); err != nil {
		return err
	}
	if err := t.products.IncrementSold(ctx, o.ProductID, o.Quantity); err != nil {
		return err
	}
	if o.PromoCode != nil {
		// Open orders already hold their use, so this only fails if the
		// limit was changed underneath them.
		if err := t.promos.IncrementUsage(ctx, *o.PromoCode); err != nil {
			return err
		}
	}
	t.emit(events.OrderCompleted, o, "")
	return nil
}

func (t *orderTx) cancel(ctx context.Context, o *domain.Order, reason string) error {
	if err := o.Cancel(reason, t.now); err != nil {
		return err
	}
	if _, err := t.inv.Release(ctx, o.ID); err != nil {
		return err
	}
	if err := t.orders.Update(ctx, o); err != nil {
		return err
	}
	t.emit(events.OrderCancelled, o, reason)
	return nil
}

func (t *orderTx) refund(ctx context.Context, o *domain.Order, reason string) error {
	wasCompleted := o.Status == domain.StatusCompleted
	release, err := o.Refund(reason, t.now)
	if err != nil {
		return err
	}
	if release {
		if _, err := t.inv.Release(ctx, o.ID); err != nil {
			return err
		}
	}
	// Only a completed order had its promo use counted.
	if wasCompleted && o.PromoCode != nil {
		if err := t.promos.DecrementUsage(ctx, *o.PromoCode); err != nil {
			return err
		}
	}
	if o.NetAmount.IsPositive() {
		id := o.ID
		if _, err := t.ledger.AddBalance(ctx, o.UserID, o.NetAmount, Entry{
			Kind: domain.TxRefund, OrderID: &id, Description: "Refund for order " + o.ID,
		}); err != nil {
			return err
		}
	}
	if err := t.orders.Update(ctx, o); err != nil {
		return err
	}
	t.emit(events.OrderRefunded, o, reason)
	return nil
}

func (t *orderTx) owned(ctx context.Context, actor *domain.User, orderID string) (*domain.Order, error) {
	o, err := t.orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canSee(actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

func canSee(actor *domain.User, o *domain.Order) error {
	if actor == nil {
		return domain.ErrUnauthorized
	}
	if o.UserID != actor.ID && !actor.IsAdmin() {
		return domain.ErrUnauthorized
	}
	return nil
}

// ---- public operations ----

// Create prices and persists an order, reserving codes for automatic products.
// Nothing is written when stock or the promo code fails.
func (s *OrderService) Create(ctx context.Context, user *domain.User, productID string, qty int, promoCode string) (*domain.Order, error) {
	if user == nil {
		return nil, domain.ErrUnauthorized
	}
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		o, err = t.create(ctx, user.ID, productID, qty, promoCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order: created", zap.String("order_id", o.ID), zap.String("user_id", user.ID),
		zap.String("product_id", productID), zap.Int("qty", qty), zap.String("net", o.NetAmount.StringFixed(2)))
	return o, nil
}

// Quote previews a promo code for the user without creating anything.
func (s *OrderService) Quote(ctx context.Context, user *domain.User, productID string, qty int, code string) (Quote, error) {
	if user == nil {
		return Quote{}, domain.ErrUnauthorized
	}
	p, err := s.Products.Get(ctx, productID)
	if err != nil {
		return Quote{}, err
	}
	if !p.Active {
		return Quote{}, domain.ErrNotFound
	}
	return s.Promos.Apply(ctx, code, user.ID, p, qty)
}

// Get returns the order if actor owns it or is an admin.
func (s *OrderService) Get(ctx context.Context, actor *domain.User, id string) (*domain.Order, error) {
	o, err := s.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canSee(actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Codes returns the delivered access codes of a completed order.
func (s *OrderService) Codes(ctx context.Context, actor *domain.User, id string) ([]domain.AccessCode, error) {
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.StatusCompleted || o.PaymentStatus != domain.PaymentPaid {
		return nil, nil
	}
	all, err := s.Inv.ListForOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Status == domain.CodeSold {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *OrderService) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.Orders.ListByUser(ctx, userID, 100)
}

func (s *OrderService) ListAll(ctx context.Context, status string) ([]domain.Order, error) {
	return s.Orders.ListLatest(ctx, status, 200)
}

func (s *OrderService) StatusCounts(ctx context.Context) (map[string]int, error) {
	return s.Orders.StatusCounts(ctx)
}

// PayWithBalance debits the net amount from the owner's balance and settles
// the order. A short balance leaves everything unchanged.
func (s *OrderService) PayWithBalance(ctx context.Context, user *domain.User, orderID string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.owned(ctx, user, orderID); err != nil {
			return err
		}
		if o.UserID != user.ID {
			return domain.ErrUnauthorized
		}
		if o.Status != domain.StatusPending || o.IsPaid() {
			return fmt.Errorf("%w: order is %s/%s", domain.ErrInvalidTransition, o.Status, o.PaymentStatus)
		}
		ref := ""
		if o.NetAmount.IsPositive() {
			id := o.ID
			txn, err := t.ledger.DeductBalance(ctx, user.ID, o.NetAmount, Entry{
				Kind: domain.TxPurchase, OrderID: &id, Description: "Payment for order " + o.ID,
			})
			if err != nil {
				return err
			}
			ref = txn.ID
		}
		_, err = t.settle(ctx, o, domain.MethodBalance, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order: paid with balance", zap.String("order_id", o.ID), zap.String("status", o.Status))
	return o, nil
}

// MarkAsPaid records a confirmed external payment. Paying an already-paid
// order is a no-op.
func (s *OrderService) MarkAsPaid(ctx context.Context, orderID, method, ref string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		_, err = t.markPaid(ctx, o, method, ref)
		return err
	})
	return o, err
}

// MarkAsFailed records a failed payment; the order stays open.
func (s *OrderService) MarkAsFailed(ctx context.Context, orderID string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		changed, err := o.MarkFailed(t.now)
		if err != nil || !changed {
			return err
		}
		return t.orders.Update(ctx, o)
	})
	return o, err
}

// DeliverAccessCodes sells the order's reserved codes and completes it. The
// order must be processing and paid; otherwise nothing changes.
func (s *OrderService) DeliverAccessCodes(ctx context.Context, orderID string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		return t.deliver(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order: delivered", zap.String("order_id", o.ID), zap.Int("codes", len(o.DeliveredCodes)))
	return o, nil
}

// Cancel releases the order's codes. Owners may cancel their own unpaid
// orders; admins any unpaid order.
func (s *OrderService) Cancel(ctx context.Context, actor *domain.User, orderID, reason string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.owned(ctx, actor, orderID); err != nil {
			return err
		}
		return t.cancel(ctx, o, reason)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order: cancelled", zap.String("order_id", o.ID), zap.String("by", actor.ID))
	return o, nil
}

// Refund reverses a paid order and credits the net amount to the buyer's balance.
func (s *OrderService) Refund(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		return t.refund(ctx, o, reason)
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("order: refunded", zap.String("order_id", o.ID), zap.String("amount", o.NetAmount.StringFixed(2)))
	return o, nil
}

// FulfillManual completes an order that staff delivered out of band.
func (s *OrderService) FulfillManual(ctx context.Context, orderID, note string) (*domain.Order, error) {
	var o *domain.Order
	err := s.inTx(ctx, func(t *orderTx) error {
		var err error
		if o, err = t.orders.GetForUpdate(ctx, orderID); err != nil {
			return err
		}
		if err := o.CompleteManual(note, t.now); err != nil {
			return err
		}
		return t.complete(ctx, o)
	})
	return o, err
}
