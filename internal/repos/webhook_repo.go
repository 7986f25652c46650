package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// WebhookRepo remembers processed payment events so replays are ignored.
type WebhookRepo struct{ db sqlx.ExtContext }

func NewWebhookRepo(db sqlx.ExtContext) *WebhookRepo { return &WebhookRepo{db: db} }

func (r *WebhookRepo) Tx(tx *sqlx.Tx) *WebhookRepo { return &WebhookRepo{db: tx} }

// Seen reports whether the event was already recorded.
func (r *WebhookRepo) Seen(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`SELECT COUNT(*) FROM webhook_events WHERE event_id = ?`), eventID)
	return n > 0, err
}

// Record stores the event id and reports whether it was new.
func (r *WebhookRepo) Record(ctx context.Context, eventID, reference, kind, status string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_events(event_id, reference, kind, status, received_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT DO NOTHING`), eventID, reference, kind, status, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
