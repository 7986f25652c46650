package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

type TicketRepo struct{ db sqlx.ExtContext }

func NewTicketRepo(db sqlx.ExtContext) *TicketRepo { return &TicketRepo{db: db} }

func (r *TicketRepo) Tx(tx *sqlx.Tx) *TicketRepo { return &TicketRepo{db: tx} }

type ticketRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	OrderID   *string   `db:"order_id"`
	Subject   string    `db:"subject"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (t ticketRow) toDomain() domain.Ticket {
	return domain.Ticket{ID: t.ID, UserID: t.UserID, OrderID: t.OrderID, Subject: t.Subject,
		Status: t.Status, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

const ticketCols = `id, user_id, order_id, subject, status, created_at, updated_at`

func (r *TicketRepo) Insert(ctx context.Context, t domain.Ticket) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO tickets(`+ticketCols+`) VALUES (?,?,?,?,?,?,?)`),
		t.ID, t.UserID, t.OrderID, t.Subject, t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TicketRepo) AddMessage(ctx context.Context, m domain.TicketMessage) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO ticket_messages(id, ticket_id, author_id, is_staff, body, created_at)
		VALUES (?,?,?,?,?,?)`), m.ID, m.TicketID, m.AuthorID, m.Staff, m.Body, m.CreatedAt)
	return err
}

func (r *TicketRepo) SetStatus(ctx context.Context, id, status string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`), status, now, id)
	return err
}

// Get returns the ticket with its messages, oldest first.
func (r *TicketRepo) Get(ctx context.Context, id string) (domain.Ticket, error) {
	var row ticketRow
	err := sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(`SELECT `+ticketCols+` FROM tickets WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Ticket{}, err
	}
	t := row.toDomain()
	if err := sqlx.SelectContext(ctx, r.db, &t.Messages, r.db.Rebind(`
		SELECT id, ticket_id, author_id, is_staff, body, created_at
		FROM ticket_messages WHERE ticket_id = ? ORDER BY created_at, id`), id); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

// List returns tickets newest-activity first. An empty userID lists everyone's,
// an empty status lists all statuses.
func (r *TicketRepo) List(ctx context.Context, userID, status string) ([]domain.Ticket, error) {
	q := `SELECT ` + ticketCols + ` FROM tickets WHERE 1 = 1`
	args := []any{}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY updated_at DESC LIMIT 200`
	var rows []ticketRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]domain.Ticket, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
