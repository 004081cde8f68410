package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/webtalk-server/internal/store"
)

// timeLayout is fixed width so that lexical order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// legacyLayouts are accepted when reading rows written by older releases.
var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"15:04:05",
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and brings its schema up to date.
func New(dbPath string) (*SQLiteStore, error) {
	s, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := s.InitSchema(context.Background()); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// NewWithSetup opens a store and runs setup before any schema work.
// Tests use it to seed layouts written by older releases.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	s, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	if setup != nil {
		if err := setup(s.db); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return s, nil
}

func open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after a successful commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== RoomStore implementation ====

// CreateRoom inserts a new room row.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) error {
	query := `
		INSERT INTO rooms (id, name, creator, password, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			room.ID,
			room.Name,
			room.Creator,
			nullString(room.Password),
			formatTime(room.CreatedAt),
			boolToInt(room.Active),
		)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		return nil
	})
}

// SetRoomActive flips the active flag of a room.
func (s *SQLiteStore) SetRoomActive(ctx context.Context, id string, active bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE rooms SET is_active = ? WHERE id = ?`, boolToInt(active), id)
		if err != nil {
			return fmt.Errorf("update room: %w", err)
		}
		return expectAffected(result, "room")
	})
}

// DeleteRoom removes a room and all of its messages.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
			return fmt.Errorf("delete room messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		return nil
	})
}

// ==== MessageStore implementation ====

// SaveMessage persists a text message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, room_id, username, content, kind, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			msg.ID,
			msg.RoomID,
			msg.Username,
			msg.Content,
			msg.Kind,
			formatTime(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// SaveFileMessage persists a file message row.
func (s *SQLiteStore) SaveFileMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (id, room_id, username, content, kind, filename, file_path, file_type, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			msg.ID,
			msg.RoomID,
			msg.Username,
			msg.Content,
			msg.Kind,
			msg.Filename,
			msg.FilePath,
			msg.FileType,
			formatTime(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert file message: %w", err)
		}
		return nil
	})
}

// MarkMessageDeleted switches a message to its deleted kind.
func (s *SQLiteStore) MarkMessageDeleted(ctx context.Context, id, kind, placeholder string) error {
	query := `
		UPDATE messages
		SET kind = ?,
		    content = ?,
		    filename = CASE WHEN filename IS NULL THEN NULL ELSE ? END,
		    file_path = NULL
		WHERE id = ?
	`
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, kind, placeholder, placeholder, id)
		if err != nil {
			return fmt.Errorf("mark message deleted: %w", err)
		}
		return expectAffected(result, "message")
	})
}

// DeleteMessage removes a message row entirely.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return expectAffected(result, "message")
	})
}

// RecentActivity returns the latest messages across all rooms, newest first.
func (s *SQLiteStore) RecentActivity(ctx context.Context, limit int) ([]*store.Activity, error) {
	query := `
		SELECT r.name, m.username, m.timestamp
		FROM messages m
		JOIN rooms r ON m.room_id = r.id
		ORDER BY m.timestamp DESC, m.rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	activities := make([]*store.Activity, 0, limit)
	for rows.Next() {
		var a store.Activity
		var ts string
		if err := rows.Scan(&a.RoomName, &a.Username, &ts); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.CreatedAt = parseTime(ts)
		activities = append(activities, &a)
	}

	return activities, rows.Err()
}

// ==== Bulk operations ====

// LoadAll returns every room with up to perRoom of its latest messages in
// chronological order. Deleted rows are kept with their deleted kind.
func (s *SQLiteStore) LoadAll(ctx context.Context, perRoom int) ([]*store.RoomSnapshot, error) {
	rooms, err := s.listRooms(ctx)
	if err != nil {
		return nil, err
	}

	// Rooms are fully read before messages are queried: with a single
	// connection a nested query would wait on the open cursor forever.
	snapshots := make([]*store.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		messages, err := s.listMessages(ctx, room.ID, perRoom)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &store.RoomSnapshot{Room: room, Messages: messages})
	}

	return snapshots, nil
}

// Clear deletes every room and message but keeps the schema.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rooms`); err != nil {
			return fmt.Errorf("clear rooms: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) listRooms(ctx context.Context) ([]*store.Room, error) {
	query := `
		SELECT id, name, creator, password, created_at, is_active
		FROM rooms
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		var room store.Room
		var password sql.NullString
		var createdAt string
		var active int
		if err := rows.Scan(&room.ID, &room.Name, &room.Creator, &password, &createdAt, &active); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.Password = password.String
		room.CreatedAt = parseTime(createdAt)
		room.Active = active != 0
		rooms = append(rooms, &room)
	}

	return rooms, rows.Err()
}

func (s *SQLiteStore) listMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, username, content, kind, filename, file_path, file_type, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var filename, filePath, fileType sql.NullString
		var ts string
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Username, &msg.Content, &msg.Kind,
			&filename, &filePath, &fileType, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Filename = filename.String
		msg.FilePath = filePath.String
		msg.FileType = fileType.String
		msg.CreatedAt = parseTime(ts)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

func expectAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
