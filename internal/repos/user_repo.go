package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"codeshop/internal/domain"
)

type UserRepo struct{ db sqlx.ExtContext }

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	Hash         string `db:"password_hash"`
	Role         string `db:"role"`
	BalanceCents int64  `db:"balance_cents"`
}

func (u userRow) toDomain() *domain.User {
	return &domain.User{ID: u.ID, Email: u.Email, Name: u.Name, Hash: u.Hash, Role: u.Role, Balance: fromCents(u.BalanceCents)}
}

func (r *UserRepo) one(ctx context.Context, q string, arg any) (*domain.User, error) {
	var u userRow
	err := sqlx.GetContext(ctx, r.db, &u, r.db.Rebind(q), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u.toDomain(), nil
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.one(ctx, `SELECT id,email,name,password_hash,role,balance_cents FROM users WHERE LOWER(email)=LOWER(?)`, email)
}

func (r *UserRepo) ByID(ctx context.Context, id string) (*domain.User, error) {
	return r.one(ctx, `SELECT id,email,name,password_hash,role,balance_cents FROM users WHERE id=?`, id)
}

func (r *UserRepo) BindSession(ctx context.Context, sid, userID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO sessions(id,user_id,last_seen)
                          VALUES(?,?,?)
                          ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id,last_seen=excluded.last_seen`), sid, userID, now)
	return err
}

func (r *UserRepo) SessionUser(ctx context.Context, sid string) (*domain.User, error) {
	return r.one(ctx, `
      SELECT u.id,u.email,u.name,u.password_hash,u.role,u.balance_cents
      FROM sessions s
      JOIN users u ON u.id=s.user_id
      WHERE s.id=?`, sid)
}

func (r *UserRepo) UnbindSession(ctx context.Context, sid string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE sessions SET user_id=NULL,last_seen=? WHERE id=?`), time.Now().UTC(), sid)
	return err
}
