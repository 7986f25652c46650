package domain

import "time"

const (
	TicketOpen     = "open"
	TicketAnswered = "answered"
	TicketClosed   = "closed"
)

type Ticket struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	OrderID   *string         `json:"order_id,omitempty"`
	Subject   string          `json:"subject"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Messages  []TicketMessage `json:"messages,omitempty"`
}

type TicketMessage struct {
	ID        string    `json:"id" db:"id"`
	TicketID  string    `json:"ticket_id" db:"ticket_id"`
	AuthorID  string    `json:"author_id" db:"author_id"`
	Staff     bool      `json:"staff" db:"is_staff"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NextStatusAfterReply: staff answers, customer replies reopen.
func NextStatusAfterReply(staff bool) string {
	if staff {
		return TicketAnswered
	}
	return TicketOpen
}
