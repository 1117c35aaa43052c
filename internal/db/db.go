package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ChangeChannel is the Postgres NOTIFY channel fed by the connection_requests
// and marketplace_listings triggers.
const ChangeChannel = "allies_changes"

func Connect(driver, dsn string) (*sqlx.DB, error) {
	db, err := Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Open connects and pings without running migrations.
func Open(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// a single connection keeps in-memory databases alive and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func Migrate(db *sqlx.DB) error {
	queries := postgresMigrations
	if db.DriverName() == "sqlite3" {
		queries = sqliteMigrations
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS connection_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','connected','declined')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	`CREATE INDEX IF NOT EXISTS connection_requests_recipient_idx ON connection_requests (recipient_id, status)`,
	`CREATE INDEX IF NOT EXISTS connection_requests_requester_idx ON connection_requests (requester_id)`,
	`CREATE TABLE IF NOT EXISTS marketplace_listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		sub_category TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		age_group TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		condition TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		price_value DOUBLE PRECISION,
		seller_label TEXT NOT NULL DEFAULT '',
		trusted_seller BOOLEAN NOT NULL DEFAULT FALSE,
		image_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	`CREATE OR REPLACE FUNCTION notify_allies_change() RETURNS trigger AS $$
	DECLARE
		rec RECORD;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			rec := OLD;
		ELSE
			rec := NEW;
		END IF;
		PERFORM pg_notify('` + ChangeChannel + `', json_build_object(
			'collection', TG_TABLE_NAME,
			'op', lower(TG_OP),
			'record', row_to_json(rec)
		)::text);
		RETURN rec;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS connection_requests_notify ON connection_requests`,
	`CREATE TRIGGER connection_requests_notify
		AFTER INSERT OR UPDATE OR DELETE ON connection_requests
		FOR EACH ROW EXECUTE FUNCTION notify_allies_change()`,
	`DROP TRIGGER IF EXISTS marketplace_listings_notify ON marketplace_listings`,
	`CREATE TRIGGER marketplace_listings_notify
		AFTER INSERT OR UPDATE OR DELETE ON marketplace_listings
		FOR EACH ROW EXECUTE FUNCTION notify_allies_change()`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS connection_requests (
		id TEXT PRIMARY KEY,
		requester_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','connected','declined')),
		created_at TIMESTAMP NOT NULL
		)`,
	`CREATE INDEX IF NOT EXISTS connection_requests_recipient_idx ON connection_requests (recipient_id, status)`,
	`CREATE INDEX IF NOT EXISTS connection_requests_requester_idx ON connection_requests (requester_id)`,
	`CREATE TABLE IF NOT EXISTS marketplace_listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		sub_category TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		age_group TEXT NOT NULL DEFAULT '',
		size TEXT NOT NULL DEFAULT '',
		condition TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		price_value REAL,
		seller_label TEXT NOT NULL DEFAULT '',
		trusted_seller BOOLEAN NOT NULL DEFAULT 0,
		image_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
		)`,
}
