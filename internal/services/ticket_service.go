package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"codeshop/internal/domain"
	"codeshop/internal/events"
	"codeshop/internal/repos"
)

type TicketService struct {
	DB       *sqlx.DB
	Tickets  *repos.TicketRepo
	Orders   *repos.OrderRepo
	Events   events.Publisher
	Log      *zap.Logger
	Producer string
	Now      func() time.Time
}

func NewTicketService(db *sqlx.DB, pub events.Publisher, log *zap.Logger) *TicketService {
	return &TicketService{
		DB:       db,
		Tickets:  repos.NewTicketRepo(db),
		Orders:   repos.NewOrderRepo(db),
		Events:   pub,
		Log:      log,
		Producer: "codeshop",
		Now:      utcNow,
	}
}

func (s *TicketService) emit(ctx context.Context, eventType string, t domain.Ticket, staff bool) {
	events.Emit(ctx, s.Events, s.Log, s.Producer, eventType, t.ID,
		events.TicketPayload{TicketID: t.ID, UserID: t.UserID, Status: t.Status, Staff: staff})
}

// Open starts a ticket with its first message. orderID, when given, must be
// one of the user's orders.
func (s *TicketService) Open(ctx context.Context, user *domain.User, subject, body, orderID string) (domain.Ticket, error) {
	if user == nil {
		return domain.Ticket{}, domain.ErrUnauthorized
	}
	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if subject == "" {
		return domain.Ticket{}, domain.Invalid("subject", "required")
	}
	if body == "" {
		return domain.Ticket{}, domain.Invalid("body", "required")
	}
	var oid *string
	if orderID = strings.TrimSpace(orderID); orderID != "" {
		o, err := s.Orders.Get(ctx, orderID)
		if err != nil {
			return domain.Ticket{}, err
		}
		if o.UserID != user.ID {
			return domain.Ticket{}, domain.ErrUnauthorized
		}
		oid = &orderID
	}

	now := s.Now()
	t := domain.Ticket{ID: uuid.NewString(), UserID: user.ID, OrderID: oid, Subject: subject,
		Status: domain.TicketOpen, CreatedAt: now, UpdatedAt: now}
	msg := domain.TicketMessage{ID: uuid.NewString(), TicketID: t.ID, AuthorID: user.ID, Body: body, CreatedAt: now}
	err := repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		r := s.Tickets.Tx(tx)
		if err := r.Insert(ctx, t); err != nil {
			return err
		}
		return r.AddMessage(ctx, msg)
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	t.Messages = []domain.TicketMessage{msg}
	s.emit(ctx, events.TicketOpened, t, false)
	return t, nil
}

// Get returns the ticket with messages; only the owner and admins may read it.
func (s *TicketService) Get(ctx context.Context, actor *domain.User, id string) (domain.Ticket, error) {
	t, err := s.Tickets.Get(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if actor == nil || (t.UserID != actor.ID && !actor.IsAdmin()) {
		return domain.Ticket{}, domain.ErrUnauthorized
	}
	return t, nil
}

// Reply adds a message. A staff reply marks the ticket answered, a customer
// reply puts it back to open. Closed tickets take no replies.
func (s *TicketService) Reply(ctx context.Context, actor *domain.User, id, body string) (domain.Ticket, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Ticket{}, domain.Invalid("body", "required")
	}
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.TicketClosed {
		return domain.Ticket{}, domain.Invalid("ticket", "closed")
	}
	staff := actor.IsAdmin() && actor.ID != t.UserID
	now := s.Now()
	msg := domain.TicketMessage{ID: uuid.NewString(), TicketID: t.ID, AuthorID: actor.ID, Staff: staff, Body: body, CreatedAt: now}
	t.Status = domain.NextStatusAfterReply(staff)
	err = repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		r := s.Tickets.Tx(tx)
		if err := r.AddMessage(ctx, msg); err != nil {
			return err
		}
		return r.SetStatus(ctx, t.ID, t.Status, now)
	})
	if err != nil {
		return domain.Ticket{}, err
	}
	t.UpdatedAt = now
	t.Messages = append(t.Messages, msg)
	s.emit(ctx, events.TicketReplied, t, staff)
	return t, nil
}

func (s *TicketService) Close(ctx context.Context, actor *domain.User, id string) (domain.Ticket, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.TicketClosed {
		return t, nil
	}
	now := s.Now()
	if err := s.Tickets.SetStatus(ctx, t.ID, domain.TicketClosed, now); err != nil {
		return domain.Ticket{}, err
	}
	t.Status, t.UpdatedAt = domain.TicketClosed, now
	s.emit(ctx, events.TicketClosed, t, actor.IsAdmin())
	return t, nil
}

func (s *TicketService) ListForUser(ctx context.Context, userID string) ([]domain.Ticket, error) {
	return s.Tickets.List(ctx, userID, "")
}

// ListAll is the staff queue; status filters when non-empty.
func (s *TicketService) ListAll(ctx context.Context, status string) ([]domain.Ticket, error) {
	return s.Tickets.List(ctx, "", status)
}
