package repos

import (
	"context"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"codeshop/internal/domain"
	applog "codeshop/internal/log"
)

const driverPostgres = "pgx"

// OpenDB opens sqlite for plain paths (":memory:" included) and PostgreSQL
// for postgres:// URLs, then ensures the schema and demo data exist.
func OpenDB(dsn string) (*sqlx.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = driverPostgres
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// One connection: sqlite has a single writer anyway, and ":memory:"
		// databases are per-connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	if err := seedIfEmpty(db); err != nil {
		return nil, err
	}
	return db, nil
}

// WithTx runs fn inside one transaction; any error rolls everything back.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isPostgres(q sqlx.ExtContext) bool { return q.DriverName() == driverPostgres }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS categories(
  id   TEXT PRIMARY KEY,
  name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS products(
  id              TEXT PRIMARY KEY,
  category_id     TEXT NOT NULL REFERENCES categories(id),
  name            TEXT NOT NULL,
  description     TEXT NOT NULL DEFAULT '',
  price_cents     BIGINT NOT NULL CHECK (price_cents >= 0),
  min_purchase    INTEGER NOT NULL DEFAULT 1,
  max_purchase    INTEGER NOT NULL DEFAULT 0,
  active          BOOLEAN NOT NULL DEFAULT TRUE,
  manual_delivery BOOLEAN NOT NULL DEFAULT FALSE,
  sold_count      INTEGER NOT NULL DEFAULT 0,
  created_at      TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id)`,
	`CREATE TABLE IF NOT EXISTS users(
  id            TEXT PRIMARY KEY,
  email         TEXT NOT NULL UNIQUE,
  name          TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role          TEXT NOT NULL CHECK (role IN ('USER','ADMIN')),
  balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
  created_at    TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sessions(
  id        TEXT PRIMARY KEY,
  user_id   TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  last_seen TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,
	`CREATE TABLE IF NOT EXISTS orders(
  id                TEXT PRIMARY KEY,
  user_id           TEXT NOT NULL REFERENCES users(id),
  product_id        TEXT NOT NULL REFERENCES products(id),
  quantity          INTEGER NOT NULL CHECK (quantity > 0),
  unit_price_cents  BIGINT NOT NULL,
  total_cents       BIGINT NOT NULL,
  discount_cents    BIGINT NOT NULL DEFAULT 0,
  net_cents         BIGINT NOT NULL,
  promo_code        TEXT NULL,
  status            TEXT NOT NULL CHECK (status IN ('pending','pending_delivery','processing','completed','cancelled')),
  payment_status    TEXT NOT NULL CHECK (payment_status IN ('pending','paid','failed','refunded')),
  payment_method    TEXT NOT NULL DEFAULT '',
  payment_reference TEXT NOT NULL DEFAULT '',
  paid_at           TIMESTAMP NULL,
  delivered_at      TIMESTAMP NULL,
  delivered_codes   TEXT NOT NULL DEFAULT '[]',
  notes             TEXT NOT NULL DEFAULT '',
  created_at        TIMESTAMP NOT NULL,
  updated_at        TIMESTAMP NOT NULL,
  CHECK (net_cents = total_cents - discount_cents)
)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_promo_user ON orders(promo_code, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)`,
	`CREATE TABLE IF NOT EXISTS access_codes(
  id          TEXT PRIMARY KEY,
  product_id  TEXT NOT NULL REFERENCES products(id),
  status      TEXT NOT NULL CHECK (status IN ('available','reserved','sold')),
  order_id    TEXT NULL REFERENCES orders(id),
  reserved_at TIMESTAMP NULL,
  sold_at     TIMESTAMP NULL,
  payload     TEXT NOT NULL,
  created_at  TIMESTAMP NOT NULL,
  CHECK ((status = 'available' AND order_id IS NULL) OR (status <> 'available' AND order_id IS NOT NULL))
)`,
	`CREATE INDEX IF NOT EXISTS idx_access_codes_product_status ON access_codes(product_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_access_codes_order ON access_codes(order_id)`,
	`CREATE TABLE IF NOT EXISTS promo_codes(
  code             TEXT PRIMARY KEY,
  discount_type    TEXT NOT NULL CHECK (discount_type IN ('percentage','fixed')),
  value_cents      BIGINT NOT NULL CHECK (value_cents >= 0),
  usage_limit      INTEGER NULL,
  user_usage_limit INTEGER NULL,
  used_count       INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
  minimum_cents    BIGINT NULL,
  starts_at        TIMESTAMP NULL,
  expires_at       TIMESTAMP NULL,
  active           BOOLEAN NOT NULL DEFAULT TRUE,
  product_ids      TEXT NOT NULL DEFAULT '[]',
  category_ids     TEXT NOT NULL DEFAULT '[]',
  created_at       TIMESTAMP NOT NULL,
  CHECK (usage_limit IS NULL OR used_count <= usage_limit)
)`,
	`CREATE TABLE IF NOT EXISTS transactions(
  id           TEXT PRIMARY KEY,
  user_id      TEXT NOT NULL REFERENCES users(id),
  kind         TEXT NOT NULL CHECK (kind IN ('deposit','purchase','refund')),
  amount_cents BIGINT NOT NULL,
  status       TEXT NOT NULL CHECK (status IN ('pending','completed','failed')),
  order_id     TEXT NULL,
  reference    TEXT NULL UNIQUE,
  description  TEXT NOT NULL DEFAULT '',
  created_at   TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_events(
  event_id    TEXT PRIMARY KEY,
  reference   TEXT NOT NULL,
  kind        TEXT NOT NULL,
  status      TEXT NOT NULL,
  received_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tickets(
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL REFERENCES users(id),
  order_id   TEXT NULL REFERENCES orders(id),
  subject    TEXT NOT NULL,
  status     TEXT NOT NULL CHECK (status IN ('open','answered','closed')),
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id)`,
	`CREATE TABLE IF NOT EXISTS ticket_messages(
  id         TEXT PRIMARY KEY,
  ticket_id  TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
  author_id  TEXT NOT NULL,
  is_staff   BOOLEAN NOT NULL DEFAULT FALSE,
  body       TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id)`,
}

func ensureSchema(db *sqlx.DB) error {
	if db.DriverName() == "sqlite" {
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			return err
		}
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedIfEmpty inserts the demo catalog, codes, promos and users on a fresh database.
func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM categories`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	applog.L().Info("seed: inserting demo catalog, access codes, promos and users")

	now := time.Now().UTC()
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT INTO categories(id,name) VALUES
		  ('games','Game Keys'),
		  ('software','Software Licenses'),
		  ('streaming','Streaming Accounts')`, nil},
		{`INSERT INTO products(id,category_id,name,description,price_cents,min_purchase,max_purchase,active,manual_delivery,created_at) VALUES
		  ('steam-key-001','games','Indie Bundle Steam Key','Region-free Steam key for the indie bundle',1999,1,5,TRUE,FALSE,?),
		  ('office-lic-001','software','Office Suite License','Lifetime single-seat license',4900,1,3,TRUE,FALSE,?),
		  ('stream-acct-001','streaming','Streaming Premium (1 month)','Shared premium profile, one month',950,1,10,TRUE,FALSE,?),
		  ('vpn-annual','software','VPN Annual Plan','Activated on your account by staff',3500,1,1,TRUE,TRUE,?),
		  ('retro-key-old','games','Retired Key','No longer sold',500,1,5,FALSE,FALSE,?)`,
			[]any{now, now, now, now, now}},
	}
	for _, s := range stmts {
		if _, err := tx.Exec(tx.Rebind(s.q), s.args...); err != nil {
			return err
		}
	}

	codes := map[string][]string{
		"steam-key-001":   {"AAAA-1111", "AAAA-2222", "AAAA-3333", "AAAA-4444", "AAAA-5555", "AAAA-6666", "AAAA-7777", "AAAA-8888"},
		"office-lic-001":  {"OFF-1-XYZ", "OFF-2-XYZ", "OFF-3-XYZ"},
		"stream-acct-001": {"stream1@mail.test:pw1", "stream2@mail.test:pw2", "stream3@mail.test:pw3", "stream4@mail.test:pw4", "stream5@mail.test:pw5", "stream6@mail.test:pw6"},
	}
	inv := NewInventoryRepo(tx)
	for pid, raws := range codes {
		payloads := make([]map[string]string, 0, len(raws))
		for _, r := range raws {
			payloads = append(payloads, domain.ParseCodePayload(r))
		}
		if _, err := inv.BulkInsert(context.Background(), pid, payloads, now); err != nil {
			return err
		}
	}

	if err := seedPromos(tx, now); err != nil {
		return err
	}
	if err := seedUsers(tx, now); err != nil {
		return err
	}
	return tx.Commit()
}

func seedPromos(tx *sqlx.Tx, now time.Time) error {
	_, err := tx.Exec(tx.Rebind(`
		INSERT INTO promo_codes(code,discount_type,value_cents,usage_limit,user_usage_limit,minimum_cents,active,product_ids,category_ids,created_at)
		VALUES
		  ('WELCOME10','percentage',1000,NULL,1,NULL,TRUE,'[]','[]',?),
		  ('FIXED5','fixed',500,100,NULL,2000,TRUE,'[]','[]',?),
		  ('GAMES20','percentage',2000,50,2,NULL,TRUE,'[]','["games"]',?),
		  ('OLDPROMO','fixed',1000,NULL,NULL,NULL,FALSE,'[]','[]',?)
		ON CONFLICT DO NOTHING`), now, now, now, now)
	return err
}

// seedUsers ensures three USERs (with balances) and one ADMIN exist.
func seedUsers(tx *sqlx.Tx, now time.Time) error {
	type u struct {
		ID, Email, Name, Role, Raw string
		Balance                    int64
	}
	users := []u{
		{"u-alice", "alice@codeshop.test", "Alice", "USER", "Passw0rd!", 20000},
		{"u-bob", "bob@codeshop.test", "Bob", "USER", "Passw0rd!", 5000},
		{"u-carol", "carol@codeshop.test", "Carol", "USER", "Passw0rd!", 0},
		{"u-admin", "admin@codeshop.test", "Admin", "ADMIN", "Passw0rd!", 0},
	}
	for _, x := range users {
		h, err := bcrypt.GenerateFromPassword([]byte(x.Raw), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(tx.Rebind(`
			INSERT INTO users(id,email,name,password_hash,role,balance_cents,created_at)
			VALUES(?,?,?,?,?,?,?)
			ON CONFLICT DO NOTHING
		`), x.ID, x.Email, x.Name, string(h), x.Role, x.Balance, now); err != nil {
			return err
		}
	}
	applog.L().Debug("seed: users ready", zap.Int("count", len(users)))
	return nil
}
