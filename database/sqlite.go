package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	is_admin BOOLEAN NOT NULL DEFAULT 0,
	device_token TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	property_limit INTEGER NOT NULL DEFAULT 0,
	subscription_plan_is_active BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_subscriptions (
	user_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	plan_id TEXT NOT NULL,
	stripe_subscription_id TEXT NOT NULL DEFAULT '',
	start_date DATETIME NOT NULL,
	end_date DATETIME NOT NULL,
	is_expired BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, position),
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS properties (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'Draft',
	created_by TEXT NOT NULL,
	is_boosted BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS property_boosts (
	property_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	plan_id TEXT NOT NULL,
	expiry_date DATETIME NOT NULL,
	PRIMARY KEY (property_id, position),
	FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL DEFAULT '',
	group_id TEXT NOT NULL DEFAULT '',
	property_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	is_seen BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS message_soft_deletes (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT 1,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS chat_groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	image TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	PRIMARY KEY (group_id, user_id),
	FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS subscription_plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price_minor INTEGER NOT NULL,
	currency TEXT NOT NULL,
	duration_months INTEGER NOT NULL,
	stripe_price_id TEXT NOT NULL DEFAULT '',
	property_limit INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS banner_plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price_minor INTEGER NOT NULL,
	currency TEXT NOT NULL,
	duration_days INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS boost_plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	price_minor INTEGER NOT NULL,
	currency TEXT NOT NULL,
	duration_days INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS banners (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	plan_id TEXT NOT NULL DEFAULT '',
	is_paid BOOLEAN NOT NULL DEFAULT 0,
	expiry_date DATETIME,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_histories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	plan_id TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	payment_intent_id TEXT UNIQUE,
	subscription_id TEXT,
	invoice_id TEXT UNIQUE,
	amount_minor INTEGER NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id);
CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id);
CREATE INDEX IF NOT EXISTS idx_messages_property ON messages(property_id);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_properties_owner ON properties(created_by, status);
CREATE INDEX IF NOT EXISTS idx_payment_histories_subscription ON payment_histories(subscription_id);
`

// OpenSQLite opens a sqlite3 database and creates the schema.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite serialises writers; one connection keeps transactions from
	// tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	logger.Info("sqlite database initialized", zap.String("dsn", dsn))
	return newSQLStore(db, logger), nil
}
