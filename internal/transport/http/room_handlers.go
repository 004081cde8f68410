package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/proto"
)

// RoomHandlers provides HTTP handlers for the public room endpoints.
type RoomHandlers struct {
	registry *core.Registry
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(registry *core.Registry, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: registry,
		log:      logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required"`
	Creator  string `json:"creator" binding:"required"`
	Password string `json:"password"`
}

// CreateRoomResponse is returned after a room is created.
type CreateRoomResponse struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

// JoinRoomRequest carries the room password, if any.
type JoinRoomRequest struct {
	Password string `json:"password"`
}

// MessageResponse is a plain confirmation body.
type MessageResponse struct {
	Message string `json:"message"`
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name and creator are required"})
		return
	}

	name := strings.TrimSpace(req.Name)
	creator := strings.TrimSpace(req.Creator)
	switch {
	case name == "" || creator == "":
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name and creator are required"})
		return
	case len([]rune(name)) > core.MaxRoomNameLength:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name is too long"})
		return
	case len([]rune(creator)) > core.MaxCreatorLength:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "creator name is too long"})
		return
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), name, creator, strings.TrimSpace(req.Password))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrPasswordTooLong):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room password is too long"})
		case errors.Is(err, core.ErrValidation):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room name and creator are required"})
		case errors.Is(err, core.ErrRoomLimit):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "room limit reached"})
		default:
			h.log.Error().Err(err).Str("room_name", name).Msg("failed to create room")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, CreateRoomResponse{RoomID: room.ID, Message: "room created"})
}

// ListRooms returns summaries of the active rooms, newest first.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms := h.registry.ListRooms()
	response := make([]proto.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		if !room.Active() {
			continue
		}
		response = append(response, roomSummary(room.Summary()))
	}
	c.JSON(http.StatusOK, response)
}

// JoinRoom checks that a room can be entered with the given password.
// POST /api/rooms/:id/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	roomID := c.Param("id")

	var req JoinRoomRequest
	// an empty body means no password
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	room := h.registry.GetRoom(roomID)
	switch {
	case room == nil:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
	case !room.Active():
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "room is inactive"})
	case !h.registry.VerifyPassword(roomID, strings.TrimSpace(req.Password)):
		h.log.Debug().Str("room_id", roomID).Msg("wrong room password")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "wrong password"})
	default:
		c.JSON(http.StatusOK, MessageResponse{Message: "access granted"})
	}
}
