package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an update or delete matched no row.
var ErrNotFound = errors.New("not found")

// Room represents a persisted chat room.
type Room struct {
	ID        string
	Name      string
	Creator   string
	Password  string // bcrypt hash, or plaintext for rows written by older releases; empty means open
	Active    bool
	CreatedAt time.Time
}

// Persisted message kinds. The kind column is the only source of truth for
// whether a row is a file and whether it was deleted.
const (
	KindText        = "text"
	KindFile        = "file"
	KindDeletedText = "deleted_text"
	KindDeletedFile = "deleted_file"
)

// Message represents a persisted chat message or file attachment.
type Message struct {
	ID        string
	RoomID    string
	Username  string
	Content   string
	Kind      string
	Filename  string
	FilePath  string
	FileType  string
	CreatedAt time.Time
}

// RoomSnapshot is a room row with its most recent messages in chronological order.
type RoomSnapshot struct {
	Room     *Room
	Messages []*Message
}

// Activity is one entry of the cross-room recent activity feed.
type Activity struct {
	RoomName  string
	Username  string
	CreatedAt time.Time
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom inserts a new room row.
	CreateRoom(ctx context.Context, room *Room) error

	// SetRoomActive flips the active flag of a room.
	SetRoomActive(ctx context.Context, id string, active bool) error

	// DeleteRoom removes a room and all of its messages in one transaction.
	DeleteRoom(ctx context.Context, id string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a text message.
	SaveMessage(ctx context.Context, msg *Message) error

	// SaveFileMessage persists a file message row.
	SaveFileMessage(ctx context.Context, msg *Message) error

	// MarkMessageDeleted switches a message to its deleted kind, replaces the
	// payload with placeholder and clears the file path.
	MarkMessageDeleted(ctx context.Context, id, kind, placeholder string) error

	// DeleteMessage removes a message row entirely. Used to roll back a
	// file message whose bytes never reached their final location.
	DeleteMessage(ctx context.Context, id string) error

	// RecentActivity returns the latest messages across all rooms, newest first.
	RecentActivity(ctx context.Context, limit int) ([]*Activity, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	MessageStore

	// InitSchema creates missing tables and migrates older layouts in place.
	InitSchema(ctx context.Context) error

	// LoadAll returns every room with up to perRoom of its latest messages.
	LoadAll(ctx context.Context, perRoom int) ([]*RoomSnapshot, error)

	// Clear deletes every room and message but keeps the schema.
	Clear(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
