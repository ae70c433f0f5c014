// Package testutil opens throwaway SQLite databases carrying the same tables
// and constraints as the Postgres migrations, so repository code can be
// exercised for real in unit tests.
package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`create table messages (
		id text primary key,
		status text not null default 'pending' check (status in ('pending', 'paid')),
		slug text unique,
		qr_code_url text,
		payment_session_ref text,
		recipient_name text not null,
		sender_name text not null default '',
		message_text text not null default '',
		template_id text not null default '',
		purchaser_email text not null default '',
		media_url text,
		images text not null default '{}',
		view_count integer not null default 0,
		paid_at datetime,
		created_at datetime not null,
		updated_at datetime not null,
		check (status = 'pending' or (slug is not null and qr_code_url is not null))
	)`,
	`create table card_collections (
		id text primary key,
		status text not null default 'pending' check (status in ('pending', 'paid')),
		slug text unique,
		qr_code_url text,
		payment_session_ref text,
		recipient_name text not null,
		sender_name text not null default '',
		purchaser_email text not null default '',
		paid_at datetime,
		created_at datetime not null,
		updated_at datetime not null,
		check (status = 'pending' or (slug is not null and qr_code_url is not null))
	)`,
	`create table cards (
		id text primary key,
		collection_id text not null references card_collections(id),
		card_order integer not null check (card_order between 1 and 12),
		title text not null check (title <> ''),
		message_text text not null default '',
		image_url text,
		media_url text,
		status text not null default 'unopened' check (status in ('unopened', 'opened')),
		opened_at datetime,
		created_at datetime not null,
		updated_at datetime not null,
		unique (collection_id, card_order)
	)`,
	`create table webhook_events (
		id integer primary key autoincrement,
		provider text not null,
		provider_event_id text not null,
		event_type text not null,
		payload text not null default '{}',
		outcome text not null default '',
		processing_error text not null default '',
		processed_at datetime,
		created_at datetime not null,
		unique (provider, provider_event_id)
	)`,
	`create table jobs (
		id integer primary key autoincrement,
		type text not null,
		payload text not null default '{}',
		run_at datetime not null,
		status text not null default 'PENDING',
		attempts integer not null default 0,
		max_attempts integer not null default 6,
		locked_by text,
		locked_at datetime,
		last_error text,
		created_at datetime not null,
		updated_at datetime not null
	)`,
}

// OpenDB returns a gorm handle on a fresh SQLite file under t.TempDir().
// The pool is limited to one connection so concurrent callers interleave at
// statement level instead of failing with SQLITE_BUSY.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "keepsake.db") + "?_busy_timeout=5000&_foreign_keys=on"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := gdb.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return gdb
}
