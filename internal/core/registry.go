package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/auth"
	"github.com/vovakirdan/webtalk-server/internal/store"
	"github.com/vovakirdan/webtalk-server/internal/utils"
)

const (
	// HistoryLoadLimit is the number of messages per room loaded at startup.
	HistoryLoadLimit = 50
	// RecentActivityLimit is the length of the stats activity feed.
	RecentActivityLimit = 10

	// MaxRoomNameLength and MaxCreatorLength bound room metadata. Callers
	// reject longer values; the registry never truncates.
	MaxRoomNameLength = 50
	MaxCreatorLength  = 30
	// MaxPasswordBytes is the longest room password bcrypt accepts.
	MaxPasswordBytes = 72

	MinMaxRooms     = 1
	MaxMaxRooms     = 1000
	MinRoomTimeout  = 1
	MaxRoomTimeout  = 168
	roomIDAttempts  = 16
	defaultMaxRooms = 50
	defaultTimeout  = 24
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// UploadDir is the root that file message paths are relative to.
	UploadDir        string
	MaxRooms         int
	RoomTimeoutHours int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
	// NewRoomID overrides room id generation; nil means utils.NewRoomID.
	NewRoomID func() string
}

// Settings are the registry limits adjustable at runtime.
type Settings struct {
	MaxRooms         int
	RoomTimeoutHours int
}

// Stats is a point-in-time view of registry usage.
type Stats struct {
	TotalRooms     int
	ActiveRooms    int
	OnlineUsers    int
	RecentActivity []ActivityEntry
}

// ActivityEntry is one rendered line of the recent activity feed.
type ActivityEntry struct {
	Text      string
	Timestamp time.Time
}

// Registry owns every Room and is the only writer of room state, in memory
// and in the store. mu guards the room map and settings; each Room guards
// its own content.
type Registry struct {
	store     store.Store
	log       *zerolog.Logger
	uploadDir string
	now       func() time.Time
	newRoomID func() string

	mu       sync.RWMutex
	rooms    map[string]*Room
	settings Settings
}

// NewRegistry creates an empty registry. Call Load to populate it from the store.
func NewRegistry(st store.Store, cfg RegistryConfig, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = utils.NewRoomID
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = defaultMaxRooms
	}
	if cfg.RoomTimeoutHours <= 0 {
		cfg.RoomTimeoutHours = defaultTimeout
	}

	return &Registry{
		store:     st,
		log:       logger,
		uploadDir: cfg.UploadDir,
		now:       cfg.Now,
		newRoomID: cfg.NewRoomID,
		rooms:     make(map[string]*Room),
		settings: Settings{
			MaxRooms:         cfg.MaxRooms,
			RoomTimeoutHours: cfg.RoomTimeoutHours,
		},
	}
}

// Load replaces the in-memory state with the rooms and latest messages from the store.
func (r *Registry) Load(ctx context.Context) error {
	snapshots, err := r.store.LoadAll(ctx, HistoryLoadLimit)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	rooms := make(map[string]*Room, len(snapshots))
	messages := 0
	for _, snap := range snapshots {
		room := NewRoom(snap.Room, r.now)
		for _, rec := range snap.Messages {
			room.messages = append(room.messages, messageFromRecord(rec))
		}
		rooms[room.ID] = room
		messages += len(snap.Messages)
	}

	r.mu.Lock()
	r.rooms = rooms
	r.mu.Unlock()

	r.log.Info().Int("rooms", len(rooms)).Int("messages", messages).Msg("registry loaded")
	return nil
}

// CreateRoom registers a new room. Either the room is both stored and
// listed, or neither.
func (r *Registry) CreateRoom(ctx context.Context, name, creator, password string) (*Room, error) {
	name = strings.TrimSpace(name)
	creator = strings.TrimSpace(creator)
	if name == "" || creator == "" {
		return nil, fmt.Errorf("room name and creator are required: %w", ErrValidation)
	}

	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	var hashed string
	if password != "" {
		var err error
		if hashed, err = auth.HashPassword(password); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCountLocked() >= r.settings.MaxRooms {
		return nil, ErrRoomLimit
	}

	id, err := r.uniqueRoomIDLocked()
	if err != nil {
		return nil, err
	}

	rec := &store.Room{
		ID:        id,
		Name:      name,
		Creator:   creator,
		Password:  hashed,
		Active:    true,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateRoom(ctx, rec); err != nil {
		return nil, &StoreError{Op: "create room", Err: err}
	}

	room := NewRoom(rec, r.now)
	r.rooms[id] = room

	r.log.Info().Str("room_id", id).Str("username", creator).Msg("room created")
	return room, nil
}

func (r *Registry) uniqueRoomIDLocked() (string, error) {
	for range roomIDAttempts {
		id := r.newRoomID()
		if _, taken := r.rooms[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New("could not allocate a free room id")
}

func (r *Registry) activeCountLocked() int {
	n := 0
	for _, room := range r.rooms {
		if room.Active() {
			n++
		}
	}
	return n
}

// GetRoom returns the room with id, or nil.
func (r *Registry) GetRoom(id string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[id]
}

// ListRooms returns every room, active or not, newest first.
func (r *Registry) ListRooms() []*Room {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// DeleteRoom removes a room, its messages and its uploaded files. It returns
// false for an unknown id. On a store failure the room stays listed.
func (r *Registry) DeleteRoom(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.rooms[id]; !ok {
		r.mu.Unlock()
		return false, nil
	}
	if err := r.store.DeleteRoom(ctx, id); err != nil {
		r.mu.Unlock()
		return false, &StoreError{Op: "delete room", Err: err}
	}
	delete(r.rooms, id)
	r.mu.Unlock()

	if r.uploadDir != "" {
		if err := os.RemoveAll(filepath.Join(r.uploadDir, id)); err != nil {
			r.log.Warn().Err(err).Str("room_id", id).Msg("remove room uploads")
		}
	}

	r.log.Info().Str("room_id", id).Msg("room deleted")
	return true, nil
}

// VerifyPassword reports whether supplied opens the room. Rooms without a
// password accept anything; unknown rooms accept nothing.
func (r *Registry) VerifyPassword(id, supplied string) bool {
	room := r.GetRoom(id)
	if room == nil {
		return false
	}
	if room.password == "" {
		return true
	}
	return auth.MatchPassword(room.password, supplied)
}

// PostTextMessage stores a text message and appends it to the room.
// Callers reject inactive rooms first.
func (r *Registry) PostTextMessage(ctx context.Context, roomID, author, body string) (Message, error) {
	if body == "" {
		return Message{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return Message{}, ErrMessageTooLong
	}

	return r.post(ctx, roomID, &Message{
		Author: author,
		Kind:   KindText,
		Text:   body,
	}, r.store.SaveMessage)
}

// PostFile stores a file message and appends it to the room. The file
// itself is not touched; if this fails the caller discards the bytes.
func (r *Registry) PostFile(ctx context.Context, roomID, author, originalName, path, fileType string) (Message, error) {
	if originalName == "" || path == "" {
		return Message{}, fmt.Errorf("file name and path are required: %w", ErrValidation)
	}

	return r.post(ctx, roomID, &Message{
		Author: author,
		Kind:   KindFile,
		File:   &Attachment{Filename: originalName, Path: path, FileType: fileType},
	}, r.store.SaveFileMessage)
}

// post persists msg and then appends it, both under the room lock, so the
// retained order matches commit order.
func (r *Registry) post(ctx context.Context, roomID string, msg *Message, save func(context.Context, *store.Message) error) (Message, error) {
	room := r.GetRoom(roomID)
	if room == nil {
		return Message{}, ErrRoomNotFound
	}

	msg.ID = uuid.NewString()
	msg.RoomID = roomID

	room.mu.Lock()
	defer room.mu.Unlock()

	msg.CreatedAt = r.now().UTC()
	if err := save(ctx, recordFromMessage(msg)); err != nil {
		return Message{}, &StoreError{Op: "save message", Err: err}
	}
	room.appendLocked(msg)
	return *msg, nil
}

// RevokeMessage deletes a message row and drops it from memory. It undoes a
// PostFile whose file never reached its final location.
func (r *Registry) RevokeMessage(ctx context.Context, roomID, messageID string) error {
	room := r.GetRoom(roomID)

	if room != nil {
		room.mu.Lock()
		defer room.mu.Unlock()
	}

	if err := r.store.DeleteMessage(ctx, messageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return &StoreError{Op: "revoke message", Err: err}
	}
	if room != nil {
		room.removeLocked(messageID)
	}
	return nil
}

// SoftDeleteMessage replaces a message with its deleted placeholder and
// removes any backing file. It returns false when the message is unknown,
// already deleted or not written by requester; the reason is only logged.
func (r *Registry) SoftDeleteMessage(ctx context.Context, roomID, messageID, requester string) (bool, error) {
	logger := r.log.With().Str("room_id", roomID).Str("message_id", messageID).Str("username", requester).Logger()

	room := r.GetRoom(roomID)
	if room == nil {
		logger.Debug().Msg("delete denied: room not found")
		return false, nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	msg := room.findLocked(messageID)
	if err := deletable(msg, requester); err != nil {
		logger.Debug().Err(err).Msg("delete denied")
		return false, nil
	}

	kind, placeholder := KindDeletedText, DeletedTextPlaceholder
	if msg.Kind.IsFile() {
		kind, placeholder = KindDeletedFile, DeletedFilePlaceholder
	}
	if err := r.store.MarkMessageDeleted(ctx, messageID, kind.String(), placeholder); err != nil {
		return false, &StoreError{Op: "delete message", Err: err}
	}

	if msg.File != nil && msg.File.Path != "" {
		r.removeUpload(msg.File.Path, logger)
	}
	msg.markDeleted()
	room.lastActivity = r.now()

	logger.Info().Msg("message deleted")
	return true, nil
}

// deletable reports why requester may not delete msg, or nil if they may.
func deletable(msg *Message, requester string) error {
	switch {
	case msg == nil:
		return ErrMessageNotFound
	case msg.Deleted():
		return fmt.Errorf("already deleted: %w", ErrMessageNotFound)
	case msg.Author != requester:
		return fmt.Errorf("%s is not the author: %w", requester, ErrPermission)
	}
	return nil
}

// removeUpload deletes a stored file. Paths that resolve outside the upload
// root are ignored.
func (r *Registry) removeUpload(rel string, logger zerolog.Logger) {
	full, ok := r.UploadPath(rel)
	if !ok {
		logger.Warn().Str("path", rel).Msg("refusing to remove file outside upload root")
		return
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", full).Msg("remove deleted file")
	}
}

// UploadPath resolves a stored file path against the upload root. Paths
// written by older releases may carry an "uploads/" prefix.
func (r *Registry) UploadPath(rel string) (string, bool) {
	if r.uploadDir == "" {
		return "", false
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "/")
	rel = strings.TrimPrefix(rel, "uploads/")

	full := filepath.Join(r.uploadDir, filepath.FromSlash(rel))
	within, err := filepath.Rel(r.uploadDir, full)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", false
	}
	return full, true
}

// SweepExpired deactivates every active room idle for more than
// timeoutHours with nobody joined. Data is kept. It returns the number of
// rooms deactivated.
func (r *Registry) SweepExpired(ctx context.Context, timeoutHours int) (int, error) {
	var errs []error
	count := 0
	for _, room := range r.ListRooms() {
		room.mu.Lock()
		if !room.active || !room.expiredLocked(timeoutHours) {
			room.mu.Unlock()
			continue
		}
		if err := r.store.SetRoomActive(ctx, room.ID, false); err != nil {
			room.mu.Unlock()
			// deleted since the snapshot was taken
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			errs = append(errs, &StoreError{Op: "deactivate room " + room.ID, Err: err})
			continue
		}
		room.active = false
		room.mu.Unlock()

		count++
		r.log.Info().Str("room_id", room.ID).Msg("room expired")
	}
	return count, errors.Join(errs...)
}

// Sweep runs SweepExpired with the current timeout setting.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.SweepExpired(ctx, r.Settings().RoomTimeoutHours)
}

// Stats counts rooms and joined users and reads the latest persisted
// messages across all rooms.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, room := range r.ListRooms() {
		stats.TotalRooms++
		if room.Active() {
			stats.ActiveRooms++
		}
		stats.OnlineUsers += room.UserCount()
	}

	activity, err := r.store.RecentActivity(ctx, RecentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	stats.RecentActivity = make([]ActivityEntry, 0, len(activity))
	for _, a := range activity {
		stats.RecentActivity = append(stats.RecentActivity, ActivityEntry{
			Text:      fmt.Sprintf("%s sent a message in room %s", a.Username, a.RoomName),
			Timestamp: a.CreatedAt,
		})
	}
	return stats, nil
}

// Settings returns the current limits.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings
}

// UpdateSettings replaces the limits after checking their bounds.
func (r *Registry) UpdateSettings(s Settings) error {
	if s.MaxRooms < MinMaxRooms || s.MaxRooms > MaxMaxRooms {
		return fmt.Errorf("max rooms must be between %d and %d: %w", MinMaxRooms, MaxMaxRooms, ErrValidation)
	}
	if s.RoomTimeoutHours < MinRoomTimeout || s.RoomTimeoutHours > MaxRoomTimeout {
		return fmt.Errorf("room timeout must be between %d and %d hours: %w", MinRoomTimeout, MaxRoomTimeout, ErrValidation)
	}

	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()

	r.log.Info().Int("max_rooms", s.MaxRooms).Int("room_timeout_hours", s.RoomTimeoutHours).Msg("settings updated")
	return nil
}
