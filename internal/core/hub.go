package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ReplayLimit is the number of retained messages replayed to a joining session.
const ReplayLimit = 20

// Hub runs the session protocol: it turns client commands into registry
// operations and fans the outcome out to every session joined to the room.
// Each room has a delivery group whose lock is held from the registry call
// through the broadcast, so events in one room arrive in commit order.
type Hub struct {
	registry *Registry
	log      *zerolog.Logger
	register chan *Client

	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	mu      sync.Mutex
	members map[*Client]string
	dropped bool
}

func (g *group) broadcast(ev *Event) {
	for client := range g.members {
		client.deliver(ev)
	}
}

// NewHub creates a hub bound to registry.
func NewHub(registry *Registry, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		registry: registry,
		log:      logger,
		register: make(chan *Client, 64),
		groups:   make(map[string]*group),
	}
}

// Run starts a worker for every registered client until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			go h.serve(ctx, c)
		}
	}
}

// RegisterClient hands a new session to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient ends a session. Its worker leaves every room the session
// joined before exiting.
func (h *Hub) UnregisterClient(c *Client) {
	c.close()
}

func (h *Hub) serve(ctx context.Context, c *Client) {
	logger := h.log.With().Str("client_id", c.ID).Logger()
	logger.Debug().Msg("session started")
	defer func() {
		h.leaveAll(c)
		logger.Debug().Msg("session ended")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.Commands:
			if cmd != nil {
				h.handle(ctx, c, cmd)
			}
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	cmd.RoomID = strings.TrimSpace(cmd.RoomID)
	cmd.Username = strings.TrimSpace(cmd.Username)

	switch cmd.Kind {
	case CommandJoinRoom:
		h.join(c, cmd)
	case CommandLeaveRoom:
		h.leave(c, cmd.RoomID, cmd.Username)
	case CommandSendText:
		h.sendText(ctx, c, cmd)
	case CommandDeleteMessage:
		h.deleteMessage(ctx, c, cmd)
	case CommandFileShared:
		h.fileShared(c, cmd)
	default:
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "unknown command")))
	}
}

func (h *Hub) join(c *Client, cmd *Command) {
	if cmd.RoomID == "" || cmd.Username == "" {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "room id and username are required")))
		return
	}
	room, cerr := h.activeRoom(cmd.RoomID)
	if cerr != nil {
		c.deliver(errorEvent(cmd.RoomID, cerr))
		return
	}

	if prev, ok := c.joined[cmd.RoomID]; ok && prev != cmd.Username {
		h.leave(c, cmd.RoomID, prev)
	}

	g := h.lockGroup(cmd.RoomID)
	defer g.mu.Unlock()

	g.members[c] = cmd.Username
	c.joined[cmd.RoomID] = cmd.Username
	room.AddUser(cmd.Username)

	g.broadcast(&Event{Kind: EventUserJoined, RoomID: cmd.RoomID, Username: cmd.Username})
	for _, msg := range room.Recent(ReplayLimit) {
		c.deliver(messageEvent(msg))
	}

	h.log.Debug().Str("client_id", c.ID).Str("room_id", cmd.RoomID).Str("username", cmd.Username).Msg("joined room")
}

// leave tolerates unknown rooms and empty arguments. A session that joined
// roomID always leaves under the name it joined with.
func (h *Hub) leave(c *Client, roomID, username string) {
	if joinedAs, ok := c.joined[roomID]; ok {
		username = joinedAs
		delete(c.joined, roomID)
	}
	if roomID == "" || username == "" {
		return
	}

	h.mu.Lock()
	g := h.groups[roomID]
	h.mu.Unlock()

	if g == nil {
		if room := h.registry.GetRoom(roomID); room != nil {
			room.RemoveUser(username)
		}
		return
	}

	g.mu.Lock()
	delete(g.members, c)
	if room := h.registry.GetRoom(roomID); room != nil {
		room.RemoveUser(username)
	}
	g.broadcast(&Event{Kind: EventUserLeft, RoomID: roomID, Username: username})
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		h.pruneGroup(roomID, g)
	}
}

func (h *Hub) leaveAll(c *Client) {
	for roomID, username := range c.joined {
		h.leave(c, roomID, username)
	}
}

func (h *Hub) sendText(ctx context.Context, c *Client, cmd *Command) {
	if cmd.RoomID == "" || cmd.Username == "" {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "room id and username are required")))
		return
	}
	if _, cerr := h.activeRoom(cmd.RoomID); cerr != nil {
		c.deliver(errorEvent(cmd.RoomID, cerr))
		return
	}

	g := h.lockGroup(cmd.RoomID)
	defer g.mu.Unlock()

	msg, err := h.registry.PostTextMessage(ctx, cmd.RoomID, cmd.Username, strings.TrimSpace(cmd.Text))
	if err != nil {
		h.logFailure(err, c, cmd, "post message")
		c.deliver(errorEvent(cmd.RoomID, errorFor(err)))
		return
	}
	g.broadcast(messageEvent(msg))
}

func (h *Hub) deleteMessage(ctx context.Context, c *Client, cmd *Command) {
	if cmd.RoomID == "" || cmd.Username == "" || cmd.MessageID == "" {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "room id, username and message id are required")))
		return
	}

	g := h.lockGroup(cmd.RoomID)
	defer g.mu.Unlock()

	ok, err := h.registry.SoftDeleteMessage(ctx, cmd.RoomID, cmd.MessageID, cmd.Username)
	if err != nil {
		h.logFailure(err, c, cmd, "delete message")
		c.deliver(errorEvent(cmd.RoomID, errorFor(err)))
		return
	}
	if !ok {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeDeleteDenied, "message cannot be deleted")))
		return
	}

	g.broadcast(&Event{
		Kind:      EventMessageRemoved,
		RoomID:    cmd.RoomID,
		Username:  cmd.Username,
		MessageID: cmd.MessageID,
	})
}

// fileShared relays the stored copy of a file message, never the
// client-supplied fields.
func (h *Hub) fileShared(c *Client, cmd *Command) {
	if cmd.RoomID == "" || cmd.Username == "" || cmd.MessageID == "" {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "room id, username and message id are required")))
		return
	}
	room, cerr := h.activeRoom(cmd.RoomID)
	if cerr != nil {
		c.deliver(errorEvent(cmd.RoomID, cerr))
		return
	}

	g := h.lockGroup(cmd.RoomID)
	defer g.mu.Unlock()

	msg, ok := room.Message(cmd.MessageID)
	if !ok || msg.Kind != KindFile || msg.Author != cmd.Username {
		c.deliver(errorEvent(cmd.RoomID, coreError(ErrCodeBadRequest, "unknown file message")))
		return
	}
	g.broadcast(messageEvent(msg))
}

// DropRoom detaches every session from a deleted room.
func (h *Hub) DropRoom(roomID string) {
	h.mu.Lock()
	g := h.groups[roomID]
	delete(h.groups, roomID)
	h.mu.Unlock()

	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.dropped = true
	for client := range g.members {
		client.deliver(errorEvent(roomID, coreError(ErrCodeRoomNotFound, "room was deleted")))
	}
	g.members = make(map[*Client]string)
}

func (h *Hub) activeRoom(roomID string) (*Room, *CoreError) {
	room := h.registry.GetRoom(roomID)
	if room == nil {
		return nil, coreError(ErrCodeRoomNotFound, "room not found")
	}
	if !room.Active() {
		return nil, coreError(ErrCodeRoomInactive, "room is no longer active")
	}
	return room, nil
}

// lockGroup returns the live delivery group for roomID with its lock held.
func (h *Hub) lockGroup(roomID string) *group {
	for {
		h.mu.Lock()
		g, ok := h.groups[roomID]
		if !ok {
			g = &group{members: make(map[*Client]string)}
			h.groups[roomID] = g
		}
		h.mu.Unlock()

		g.mu.Lock()
		if !g.dropped {
			return g
		}
		g.mu.Unlock()
	}
}

func (h *Hub) pruneGroup(roomID string, g *group) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if h.groups[roomID] == g && len(g.members) == 0 {
		delete(h.groups, roomID)
		g.dropped = true
	}
}

func (h *Hub) logFailure(err error, c *Client, cmd *Command, msg string) {
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		return
	}
	h.log.Error().Err(err).
		Str("client_id", c.ID).
		Str("room_id", cmd.RoomID).
		Str("username", cmd.Username).
		Msg(msg)
}
