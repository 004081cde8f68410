package core

import (
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/webtalk-server/internal/store"
)

// MessageRetention is the number of messages a room keeps in memory.
const MessageRetention = 100

// Room is the in-memory state of one chat room. Metadata fields are fixed
// after construction; everything else is guarded by mu.
type Room struct {
	ID        string
	Name      string
	Creator   string
	CreatedAt time.Time

	password string
	now      func() time.Time

	mu           sync.Mutex
	active       bool
	lastActivity time.Time
	users        map[string]struct{}
	messages     []*Message
}

// RoomSummary is the listing projection of a room, without message bodies.
type RoomSummary struct {
	ID           string
	Name         string
	Creator      string
	CreatedAt    time.Time
	HasPassword  bool
	Active       bool
	UserCount    int
	MessageCount int
}

// NewRoom builds a room from its persisted row. The activity clock starts now.
func NewRoom(rec *store.Room, now func() time.Time) *Room {
	if now == nil {
		now = time.Now
	}
	return &Room{
		ID:           rec.ID,
		Name:         rec.Name,
		Creator:      rec.Creator,
		CreatedAt:    rec.CreatedAt,
		password:     rec.Password,
		now:          now,
		active:       rec.Active,
		lastActivity: now(),
		users:        make(map[string]struct{}),
	}
}

// AddUser marks name as present. Adding a present name only refreshes activity.
func (r *Room) AddUser(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[name] = struct{}{}
	r.lastActivity = r.now()
}

// RemoveUser drops name from the room. Removing an absent name only refreshes activity.
func (r *Room) RemoveUser(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users, name)
	r.lastActivity = r.now()
}

// AppendMessage adds msg to the tail, dropping the oldest messages past MessageRetention.
func (r *Room) AppendMessage(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appendLocked(msg)
}

func (r *Room) appendLocked(msg *Message) {
	r.messages = append(r.messages, msg)
	if over := len(r.messages) - MessageRetention; over > 0 {
		clear(r.messages[:over])
		r.messages = r.messages[over:]
	}
	r.lastActivity = r.now()
}

// IsExpired reports whether the room has been idle for more than timeoutHours
// with nobody in it. An occupied room never expires.
func (r *Room) IsExpired(timeoutHours int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.expiredLocked(timeoutHours)
}

func (r *Room) expiredLocked(timeoutHours int) bool {
	if len(r.users) > 0 {
		return false
	}
	return r.now().Sub(r.lastActivity) > time.Duration(timeoutHours)*time.Hour
}

// Summary returns the listing projection of the room.
func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RoomSummary{
		ID:           r.ID,
		Name:         r.Name,
		Creator:      r.Creator,
		CreatedAt:    r.CreatedAt,
		HasPassword:  r.password != "",
		Active:       r.active,
		UserCount:    len(r.users),
		MessageCount: len(r.messages),
	}
}

// Active reports whether the room still accepts joins and messages.
func (r *Room) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// HasPassword reports whether joining requires a password.
func (r *Room) HasPassword() bool {
	return r.password != ""
}

// Users returns the names currently joined, sorted.
func (r *Room) Users() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.users))
	for name := range r.users {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}

// UserCount returns the number of names currently joined.
func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.users)
}

// LastActivity returns the time of the latest join, leave or message.
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActivity
}

// Messages returns a copy of all retained messages, oldest first.
func (r *Room) Messages() []Message {
	return r.Recent(MessageRetention)
}

// Recent returns copies of the last n retained messages, oldest first.
func (r *Room) Recent(n int) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := max(len(r.messages)-n, 0)
	out := make([]Message, 0, len(r.messages)-start)
	for _, msg := range r.messages[start:] {
		out = append(out, *msg)
	}
	return out
}

// Message returns a copy of the retained message with the given id.
func (r *Room) Message(id string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg := r.findLocked(id); msg != nil {
		return *msg, true
	}
	return Message{}, false
}

func (r *Room) findLocked(id string) *Message {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].ID == id {
			return r.messages[i]
		}
	}
	return nil
}

func (r *Room) removeLocked(id string) {
	for i, msg := range r.messages {
		if msg.ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return
		}
	}
}
