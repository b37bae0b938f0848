package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"tutorchat/pkg/logger"
)

// SQLStore is the relational backend shared by the SQL repositories.
// SQLite and PostgreSQL run the same schema; queries are written with ?
// placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	driver string
	poll   time.Duration
}

// NewSQLStore opens the database and applies pending migrations. driver is
// "sqlite" or "postgres"; poll is the change-feed interval.
func NewSQLStore(driver, dsn string, poll time.Duration) (*SQLStore, error) {
	name, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	if name == "sqlite" {
		// SQLite allows a single writer; one connection keeps in-memory
		// databases shared and serializes ledger upserts.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: name, poll: poll}
	if err := s.runMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQL store ready (driver=%s)", name)
	return s, nil
}

func sqlDriverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PollInterval is the interval of the polling change feeds.
func (s *SQLStore) PollInterval() time.Duration {
	return s.poll
}

func (s *SQLStore) rebind(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range sqlMigrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

type sqlMigration struct {
	version    int
	statements []string
}

// sqlMigrations must stay valid for both SQLite and PostgreSQL.
var sqlMigrations = []sqlMigration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS orders (
				id                TEXT PRIMARY KEY,
				client_id         TEXT NOT NULL,
				assigned_tutor_id TEXT NOT NULL DEFAULT '',
				status            TEXT NOT NULL,
				title             TEXT NOT NULL DEFAULT '',
				created_at        TIMESTAMP NOT NULL,
				updated_at        TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_id)`,
			`CREATE TABLE IF NOT EXISTS tutors (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				email      TEXT NOT NULL DEFAULT '',
				subjects   TEXT NOT NULL DEFAULT '[]',
				rating     DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id          TEXT PRIMARY KEY,
				thread_id   TEXT NOT NULL,
				seq         BIGINT NOT NULL,
				order_id    TEXT NOT NULL,
				tutor_id    TEXT NOT NULL DEFAULT '',
				sender_id   TEXT NOT NULL,
				sender_role TEXT NOT NULL,
				body        TEXT NOT NULL,
				created_at  TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages(thread_id, created_at, seq)`,
			`CREATE TABLE IF NOT EXISTS chat_notifications (
				thread_id     TEXT PRIMARY KEY,
				order_id      TEXT NOT NULL,
				key_tutor_id  TEXT NOT NULL DEFAULT '',
				client_id     TEXT NOT NULL,
				tutor_id      TEXT NOT NULL DEFAULT '',
				mode          TEXT NOT NULL,
				client_read   INTEGER NOT NULL DEFAULT 1,
				client_unread INTEGER NOT NULL DEFAULT 0,
				admin_read    INTEGER NOT NULL DEFAULT 1,
				admin_unread  INTEGER NOT NULL DEFAULT 0,
				version       BIGINT NOT NULL DEFAULT 0,
				updated_at    TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_notifications_client ON chat_notifications(client_id)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_notifications_tutor ON chat_notifications(tutor_id)`,
		},
	},
}

// pollChanges is the SQL change feed: it compares a fingerprint of the
// watched rows every interval and calls onChange when it moves. The first
// fingerprint is taken before returning so no write is missed.
func (s *SQLStore) pollChanges(ctx context.Context, fingerprint func(context.Context) (string, error), onChange func()) (func(), error) {
	last, err := fingerprint(ctx)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				current, err := fingerprint(pollCtx)
				if err != nil {
					if pollCtx.Err() != nil {
						return
					}
					logger.Warn("Change feed poll failed: %v", err)
					continue
				}
				if current == last {
					continue
				}
				last = current
				if pollCtx.Err() != nil {
					return
				}
				onChange()
			}
		}
	}()

	return cancel, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
