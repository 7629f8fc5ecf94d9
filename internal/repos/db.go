package repos

import (
	"context"
	"fmt"
	"log"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// NormalizeDriver maps config spellings onto registered database/sql driver names.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "pgx", "postgres", "postgresql":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported db driver %q", driver)
}

func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	drv, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(drv, dsn)
	if err != nil {
		return nil, err
	}
	if drv == DriverSQLite {
		// One connection: keeps ":memory:" databases alive and serializes
		// writers, which SQLite does anyway.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	seqCol := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() == DriverSQLite {
		for _, p := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`} {
			if _, err := db.Exec(p); err != nil {
				return err
			}
		}
	} else {
		seqCol = "seq BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		// Users & sessions
		`CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  avatar_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email))`,
		`CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  created_at TEXT NOT NULL,
  last_seen TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`,

		// Lots
		`CREATE TABLE IF NOT EXISTS lots(
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  budget_min DOUBLE PRECISION NOT NULL CHECK (budget_min >= 0),
  budget_max DOUBLE PRECISION NOT NULL,
  currency TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  images_json TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL CHECK (status IN ('draft','active','closed','expired')),
  offer_count INTEGER NOT NULL DEFAULT 0,
  deadline_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  deleted_at TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  CHECK (budget_min <= budget_max)
)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_buyer ON lots(buyer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_status ON lots(status)`,
		`CREATE INDEX IF NOT EXISTS idx_lots_created_at ON lots(created_at)`,

		// Offers
		`CREATE TABLE IF NOT EXISTS offers(
  id TEXT PRIMARY KEY,
  lot_id TEXT NOT NULL REFERENCES lots(id),
  seller_id TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL CHECK (price > 0),
  currency TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  delivery_json TEXT NOT NULL DEFAULT '[]',
  images_json TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL CHECK (status IN ('pending','accepted','declined','withdrawn')),
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1
)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_lot ON offers(lot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_seller ON offers(seller_id)`,
		// At most one accepted offer per lot.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_offers_one_accepted ON offers(lot_id) WHERE status = 'accepted'`,

		// Deals
		`CREATE TABLE IF NOT EXISTS deals(
  id TEXT PRIMARY KEY,
  lot_id TEXT NOT NULL UNIQUE REFERENCES lots(id),
  offer_id TEXT NOT NULL UNIQUE REFERENCES offers(id),
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('awaiting_payment','awaiting_shipment','awaiting_confirmation','completed','cancelled','in_dispute')),
  dispute_reason TEXT NOT NULL DEFAULT '',
  cancel_reason TEXT NOT NULL DEFAULT '',
  due_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1
)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_buyer ON deals(buyer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_seller ON deals(seller_id)`,
		`CREATE TABLE IF NOT EXISTS deal_milestones(
  deal_id TEXT NOT NULL REFERENCES deals(id) ON DELETE CASCADE,
  label TEXT NOT NULL,
  position INTEGER NOT NULL,
  completed_at TEXT,
  PRIMARY KEY (deal_id, label)
)`,

		// Transition outbox
		`CREATE TABLE IF NOT EXISTS events(
  ` + seqCol + `,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  old_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  actor_id TEXT NOT NULL DEFAULT '',
  lot_id TEXT NOT NULL DEFAULT '',
  user_ids_json TEXT NOT NULL DEFAULT '[]',
  reason TEXT NOT NULL DEFAULT '',
  occurred_at TEXT NOT NULL,
  dispatched_at TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events(dispatched_at, seq)`,

		// Offer conversations
		`CREATE TABLE IF NOT EXISTS messages(
  id TEXT PRIMARY KEY,
  offer_id TEXT NOT NULL REFERENCES offers(id),
  sender_id TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  attachment_url TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_offer ON messages(offer_id, created_at)`,

		// In-app notifications
		`CREATE TABLE IF NOT EXISTS notifications(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  entity_id TEXT NOT NULL,
  event_key TEXT NOT NULL,
  is_read INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  UNIQUE (user_id, event_key)
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at)`,

		// Dashboard projection
		`CREATE TABLE IF NOT EXISTS dashboard_stats(
  user_id TEXT PRIMARY KEY,
  active_lots INTEGER NOT NULL DEFAULT 0,
  pending_offers INTEGER NOT NULL DEFAULT 0,
  active_deals INTEGER NOT NULL DEFAULT 0,
  completed_deals INTEGER NOT NULL DEFAULT 0,
  offers_made INTEGER NOT NULL DEFAULT 0,
  unread_notifications INTEGER NOT NULL DEFAULT 0,
  incoming_messages INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
)`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Store bundles the repositories over one database handle.
type Store struct {
	DB            *sqlx.DB
	Users         *UserRepo
	Lots          *LotRepo
	Offers        *OfferRepo
	Deals         *DealRepo
	Events        *EventRepo
	Messages      *MessageRepo
	Notifications *NotificationRepo
	Stats         *StatsRepo
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		DB:            db,
		Users:         NewUserRepo(db),
		Lots:          NewLotRepo(db),
		Offers:        NewOfferRepo(db),
		Deals:         NewDealRepo(db),
		Events:        NewEventRepo(db),
		Messages:      NewMessageRepo(db),
		Notifications: NewNotificationRepo(db),
		Stats:         NewStatsRepo(db),
	}
}

// Tx exposes the write-side repositories bound to one transaction.
type Tx struct {
	Lots     *LotRepo
	Offers   *OfferRepo
	Deals    *DealRepo
	Events   *EventRepo
	Messages *MessageRepo
}

// InTx runs fn inside a single transaction. Nothing is committed unless fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&Tx{
		Lots:     NewLotRepo(tx),
		Offers:   NewOfferRepo(tx),
		Deals:    NewDealRepo(tx),
		Events:   NewEventRepo(tx),
		Messages: NewMessageRepo(tx),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SeedDemo inserts two demo users into an empty database.
func SeedDemo(ctx context.Context, s *Store, hash func(string) (string, error)) error {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	log.Println("[seed] inserting demo users")
	for _, u := range []struct{ id, email, name string }{
		{"u-alice", "alice@lotbuy.test", "Alice"},
		{"u-bob", "bob@lotbuy.test", "Bob"},
	} {
		h, err := hash("Passw0rd!")
		if err != nil {
			return err
		}
		if err := s.Users.Create(ctx, u.id, u.email, u.name, h); err != nil {
			return err
		}
	}
	return nil
}
