package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const createRoomsTable = `
	CREATE TABLE IF NOT EXISTS rooms (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		creator    TEXT NOT NULL,
		password   TEXT,
		created_at TEXT NOT NULL,
		is_active  INTEGER NOT NULL DEFAULT 1
	)
`

const messagesColumns = `
		id         TEXT PRIMARY KEY,
		room_id    TEXT NOT NULL,
		username   TEXT NOT NULL,
		content    TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT 'text',
		filename   TEXT,
		file_path  TEXT,
		file_type  TEXT,
		timestamp  TEXT NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms (id)
`

const createMessagesIndex = `CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, timestamp DESC)`

// InitSchema creates the rooms and messages tables if they are missing and
// upgrades layouts written by older releases: missing columns are added and an
// integer message id column is rebuilt as TEXT. All of it runs in one
// transaction, so a failed migration leaves the previous layout untouched.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createRoomsTable); err != nil {
			return fmt.Errorf("create rooms table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS messages ("+messagesColumns+")"); err != nil {
			return fmt.Errorf("create messages table: %w", err)
		}

		if err := migrateRooms(ctx, tx); err != nil {
			return err
		}
		if err := migrateMessages(ctx, tx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, createMessagesIndex); err != nil {
			return fmt.Errorf("create messages index: %w", err)
		}
		return nil
	})
}

func migrateRooms(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "rooms")
	if err != nil {
		return err
	}

	missing := []struct{ name, ddl string }{
		{"password", "ALTER TABLE rooms ADD COLUMN password TEXT"},
		{"is_active", "ALTER TABLE rooms ADD COLUMN is_active INTEGER NOT NULL DEFAULT 1"},
	}
	for _, m := range missing {
		if _, ok := cols[m.name]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("add rooms.%s: %w", m.name, err)
		}
	}
	return nil
}

func migrateMessages(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "messages")
	if err != nil {
		return err
	}

	_, hadKind := cols["kind"]
	missing := []struct{ name, ddl string }{
		{"kind", "ALTER TABLE messages ADD COLUMN kind TEXT NOT NULL DEFAULT 'text'"},
		{"filename", "ALTER TABLE messages ADD COLUMN filename TEXT"},
		{"file_path", "ALTER TABLE messages ADD COLUMN file_path TEXT"},
		{"file_type", "ALTER TABLE messages ADD COLUMN file_type TEXT"},
		{"timestamp", "ALTER TABLE messages ADD COLUMN timestamp TEXT NOT NULL DEFAULT ''"},
	}
	for _, m := range missing {
		if _, ok := cols[m.name]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("add messages.%s: %w", m.name, err)
		}
	}

	// Older releases tagged rows with a free-form message_type and an
	// is_deleted flag. Fold both into kind once, when the column is new.
	if !hadKind {
		if _, ok := cols["message_type"]; ok {
			if _, err := tx.ExecContext(ctx, `UPDATE messages SET kind = 'file' WHERE message_type = 'file'`); err != nil {
				return fmt.Errorf("backfill message kind: %w", err)
			}
		}
		if _, ok := cols["is_deleted"]; ok {
			query := `
				UPDATE messages
				SET kind = CASE kind WHEN 'file' THEN 'deleted_file' ELSE 'deleted_text' END
				WHERE is_deleted = 1
			`
			if _, err := tx.ExecContext(ctx, query); err != nil {
				return fmt.Errorf("backfill deleted kind: %w", err)
			}
		}
	}

	if strings.EqualFold(cols["id"], "TEXT") {
		return nil
	}
	return rebuildMessages(ctx, tx)
}

// rebuildMessages copies the messages table into the current layout,
// converting the id column to TEXT. SQLite cannot retype a column in place.
func rebuildMessages(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_messages_room`,
		"CREATE TABLE messages_migrated (" + messagesColumns + ")",
		`
		INSERT INTO messages_migrated (id, room_id, username, content, kind, filename, file_path, file_type, timestamp)
		SELECT CAST(id AS TEXT), room_id, username, content, kind, filename, file_path, file_type, timestamp
		FROM messages
		ORDER BY rowid ASC
		`,
		`DROP TABLE messages`,
		`ALTER TABLE messages_migrated RENAME TO messages`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild messages table: %w", err)
		}
	}
	return nil
}

// tableColumns maps column names of table to their declared type.
func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name      string
			declType  string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan %s column: %w", table, err)
		}
		cols[name] = declType
	}
	return cols, rows.Err()
}
