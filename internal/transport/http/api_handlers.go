package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/auth"
	"github.com/vovakirdan/webtalk-server/internal/core"
)

// AdminHandlers provides HTTP handlers for the admin endpoints.
type AdminHandlers struct {
	authService *auth.Service
	registry    *core.Registry
	hub         *core.Hub
	log         *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(authService *auth.Service, registry *core.Registry, hub *core.Hub, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		authService: authService,
		registry:    registry,
		hub:         hub,
		log:         logger,
	}
}

// LoginRequest represents the admin login request body.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ActivityResponse is one line of the activity feed.
type ActivityResponse struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse is the admin dashboard summary.
type StatsResponse struct {
	TotalRooms     int                `json:"totalRooms"`
	ActiveRooms    int                `json:"activeRooms"`
	OnlineUsers    int                `json:"onlineUsers"`
	RecentActivity []ActivityResponse `json:"recentActivity"`
}

// CleanupResponse reports how many rooms a sweep deactivated.
type CleanupResponse struct {
	Message string `json:"message"`
	Cleaned int    `json:"cleaned"`
}

// SettingsRequest replaces the registry limits.
type SettingsRequest struct {
	MaxRooms         int `json:"max_rooms" binding:"required"`
	RoomTimeoutHours int `json:"room_timeout_hours" binding:"required"`
}

// SettingsResponse echoes the limits in effect.
type SettingsResponse struct {
	MaxRooms         int `json:"max_rooms"`
	RoomTimeoutHours int `json:"room_timeout_hours"`
}

// Login exchanges the admin password for a token.
// POST /api/admin/login
func (h *AdminHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		case errors.Is(err, auth.ErrAdminDisabled):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin access is disabled"})
		default:
			h.log.Error().Err(err).Msg("failed to issue admin token")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Msg("admin logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Stats sweeps expired rooms and reports usage.
// GET /api/admin/stats
func (h *AdminHandlers) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.registry.Sweep(ctx); err != nil {
		h.log.Warn().Err(err).Msg("sweep before stats")
	}

	stats, err := h.registry.Stats(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read stats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	activity := make([]ActivityResponse, 0, len(stats.RecentActivity))
	for _, a := range stats.RecentActivity {
		activity = append(activity, ActivityResponse{Text: a.Text, Timestamp: formatTimestamp(a.Timestamp)})
	}
	c.JSON(http.StatusOK, StatsResponse{
		TotalRooms:     stats.TotalRooms,
		ActiveRooms:    stats.ActiveRooms,
		OnlineUsers:    stats.OnlineUsers,
		RecentActivity: activity,
	})
}

// DeleteRoom removes a room with its history and files, then disconnects
// its members from the room.
// DELETE /api/admin/rooms/:id
func (h *AdminHandlers) DeleteRoom(c *gin.Context) {
	roomID := c.Param("id")

	ok, err := h.registry.DeleteRoom(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to delete room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to delete room"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	h.hub.DropRoom(roomID)
	c.JSON(http.StatusOK, MessageResponse{Message: "room deleted"})
}

// Cleanup deactivates expired rooms now.
// POST /api/admin/cleanup
func (h *AdminHandlers) Cleanup(c *gin.Context) {
	cleaned, err := h.registry.Sweep(c.Request.Context())
	if err != nil {
		// rooms that did deactivate are still counted
		h.log.Error().Err(err).Int("cleaned", cleaned).Msg("cleanup incomplete")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "cleanup incomplete"})
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Message: "cleanup finished", Cleaned: cleaned})
}

// UpdateSettings replaces the room limit and the inactivity timeout.
// POST /api/admin/settings
func (h *AdminHandlers) UpdateSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.registry.UpdateSettings(core.Settings{
		MaxRooms:         req.MaxRooms,
		RoomTimeoutHours: req.RoomTimeoutHours,
	})
	if err != nil {
		msg := strings.TrimSuffix(err.Error(), ": "+core.ErrValidation.Error())
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
		return
	}

	s := h.registry.Settings()
	c.JSON(http.StatusOK, SettingsResponse{MaxRooms: s.MaxRooms, RoomTimeoutHours: s.RoomTimeoutHours})
}
