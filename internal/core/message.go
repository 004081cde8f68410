package core

import (
	"time"

	"github.com/vovakirdan/webtalk-server/internal/store"
)

// MessageKind tags a message as text or file and records whether it was deleted.
type MessageKind int

const (
	KindText MessageKind = iota
	KindFile
	KindDeletedText
	KindDeletedFile
)

// Placeholders that replace the payload of a deleted message.
const (
	DeletedTextPlaceholder = "message deleted"
	DeletedFilePlaceholder = "file deleted"
)

// MaxMessageLength is the longest accepted text body, in characters.
const MaxMessageLength = 500

func (k MessageKind) String() string {
	switch k {
	case KindFile:
		return store.KindFile
	case KindDeletedText:
		return store.KindDeletedText
	case KindDeletedFile:
		return store.KindDeletedFile
	default:
		return store.KindText
	}
}

// ParseMessageKind converts a persisted kind back. Unknown values read as text.
func ParseMessageKind(s string) MessageKind {
	switch s {
	case store.KindFile:
		return KindFile
	case store.KindDeletedText:
		return KindDeletedText
	case store.KindDeletedFile:
		return KindDeletedFile
	default:
		return KindText
	}
}

// IsFile reports whether the message carries, or carried, an attachment.
func (k MessageKind) IsFile() bool {
	return k == KindFile || k == KindDeletedFile
}

// Deleted reports whether the message was soft-deleted.
func (k MessageKind) Deleted() bool {
	return k == KindDeletedText || k == KindDeletedFile
}

// Attachment describes the file behind a file message. Path is relative to
// the upload root and empty once the file is deleted.
type Attachment struct {
	Filename string
	Path     string
	FileType string
}

// Message is the domain model for a chat message.
type Message struct {
	ID        string
	RoomID    string
	Author    string
	Kind      MessageKind
	Text      string
	File      *Attachment
	CreatedAt time.Time
}

// Deleted reports whether the message was soft-deleted.
func (m *Message) Deleted() bool {
	return m.Kind.Deleted()
}

// markDeleted swaps the payload for its placeholder. The attachment is
// replaced, not mutated, so copies handed out earlier stay intact.
func (m *Message) markDeleted() {
	if m.Kind.IsFile() {
		fileType := ""
		if m.File != nil {
			fileType = m.File.FileType
		}
		m.Kind = KindDeletedFile
		m.File = &Attachment{Filename: DeletedFilePlaceholder, FileType: fileType}
		m.Text = ""
		return
	}
	m.Kind = KindDeletedText
	m.Text = DeletedTextPlaceholder
}

func messageFromRecord(rec *store.Message) *Message {
	msg := &Message{
		ID:        rec.ID,
		RoomID:    rec.RoomID,
		Author:    rec.Username,
		Kind:      ParseMessageKind(rec.Kind),
		CreatedAt: rec.CreatedAt,
	}
	switch msg.Kind {
	case KindFile:
		msg.File = &Attachment{Filename: rec.Filename, Path: rec.FilePath, FileType: rec.FileType}
	case KindDeletedFile:
		msg.File = &Attachment{Filename: DeletedFilePlaceholder, FileType: rec.FileType}
	case KindDeletedText:
		msg.Text = DeletedTextPlaceholder
	default:
		msg.Text = rec.Content
	}
	return msg
}

func recordFromMessage(msg *Message) *store.Message {
	rec := &store.Message{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Username:  msg.Author,
		Content:   msg.Text,
		Kind:      msg.Kind.String(),
		CreatedAt: msg.CreatedAt,
	}
	if msg.File != nil {
		rec.Content = msg.File.Filename
		rec.Filename = msg.File.Filename
		rec.FilePath = msg.File.Path
		rec.FileType = msg.File.FileType
	}
	return rec
}
