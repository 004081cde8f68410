package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/attachment"
	"github.com/vovakirdan/webtalk-server/internal/proto"
)

// multipartOverhead is allowed on top of the file limit for form fields and
// part headers.
const multipartOverhead = 64 << 10

// UploadHandlers accepts multipart file uploads into a room.
type UploadHandlers struct {
	pipeline *attachment.Pipeline
	maxBytes int64
	log      *zerolog.Logger
}

// NewUploadHandlers creates upload handlers. maxBytes caps the whole request.
func NewUploadHandlers(pipeline *attachment.Pipeline, maxBytes int64, logger *zerolog.Logger) *UploadHandlers {
	return &UploadHandlers{pipeline: pipeline, maxBytes: maxBytes, log: logger}
}

// Upload handles a file upload.
// POST /api/rooms/:id/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	up := &attachment.Upload{
		RoomID:    c.Param("id"),
		Username:  c.PostForm("username"),
		Password:  strings.TrimSpace(c.PostForm("password")),
		UserAgent: c.GetHeader("User-Agent"),
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file too large"})
			return
		}
		h.log.Debug().Err(err).Str("room_id", up.RoomID).Msg("upload without file")
	} else {
		f, openErr := fh.Open()
		if openErr != nil {
			h.log.Error().Err(openErr).Str("room_id", up.RoomID).Msg("open multipart file")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		defer f.Close()

		up.Filename = fh.Filename
		up.Size = fh.Size
		up.Body = f
	}

	res, err := h.pipeline.Process(c.Request.Context(), up)
	if err != nil {
		var upErr *attachment.Error
		if errors.As(err, &upErr) {
			if upErr.Status >= http.StatusInternalServerError {
				h.log.Error().Err(err).Str("room_id", up.RoomID).Msg("upload failed")
			}
			c.JSON(upErr.Status, ErrorResponse{Error: upErr.Msg})
			return
		}
		h.log.Error().Err(err).Str("room_id", up.RoomID).Msg("upload failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, proto.UploadResult{
		Message:   "file uploaded",
		Filename:  res.Filename,
		FileType:  res.FileType,
		MessageID: res.MessageID,
		Size:      res.Size,
		Mobile:    res.Mobile,
	})
}
