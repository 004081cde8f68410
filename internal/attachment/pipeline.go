package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/webtalk-server/internal/core"
)

// Stage is a step of the upload state machine. Each upload moves through
// the stages in order; a failure at any point rolls back what earlier
// stages committed.
type Stage int

const (
	StageReceived Stage = iota
	StageValidated
	StageStaged
	StageRegistered
	StageFinalized
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageValidated:
		return "validated"
	case StageStaged:
		return "staged"
	case StageRegistered:
		return "registered"
	case StageFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

type fileKind struct {
	mime     string
	fileType string
}

// allowed maps accepted extensions to the signature they must carry.
var allowed = map[string]fileKind{
	"pdf":  {mime: "application/pdf", fileType: "pdf"},
	"jpg":  {mime: "image/jpeg", fileType: "image"},
	"jpeg": {mime: "image/jpeg", fileType: "image"},
	"png":  {mime: "image/png", fileType: "image"},
}

var mobileMarkers = []string{"mobile", "android", "iphone", "ipad", "ipod", "webos", "blackberry", "iemobile", "opera mini"}

// Registry is the part of core.Registry the pipeline needs.
type Registry interface {
	GetRoom(id string) *core.Room
	VerifyPassword(id, supplied string) bool
	PostFile(ctx context.Context, roomID, author, originalName, path, fileType string) (core.Message, error)
	RevokeMessage(ctx context.Context, roomID, messageID string) error
}

// Config holds pipeline limits and locations.
type Config struct {
	UploadDir      string
	TempDir        string
	MaxBytes       int64
	MaxMobileBytes int64
}

// Upload is one incoming file with the form fields sent alongside it.
type Upload struct {
	RoomID    string
	Username  string
	Password  string
	Filename  string
	Size      int64
	Body      io.Reader
	UserAgent string
}

// Result describes a finalized upload.
type Result struct {
	Message   core.Message
	Filename  string
	FileType  string
	MessageID string
	Size      int64
	Mobile    bool
}

// Pipeline validates, stages, registers and finalizes uploads. No bytes are
// left behind on any failure path, and no message row references a file
// that is not in place.
type Pipeline struct {
	registry Registry
	log      *zerolog.Logger
	cfg      Config

	// rename moves a staged file into place.
	rename func(oldpath, newpath string) error
}

// NewPipeline creates a pipeline writing under cfg.UploadDir.
func NewPipeline(registry Registry, cfg Config, logger *zerolog.Logger) *Pipeline {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.MaxMobileBytes <= 0 || cfg.MaxMobileBytes > cfg.MaxBytes {
		cfg.MaxMobileBytes = cfg.MaxBytes
	}
	return &Pipeline{
		registry: registry,
		log:      logger,
		cfg:      cfg,
		rename:   os.Rename,
	}
}

// IsMobile reports whether a User-Agent looks like a phone or tablet.
func IsMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// run carries the state of one upload through the stages.
type run struct {
	p      *Pipeline
	up     *Upload
	logger zerolog.Logger

	stage    Stage
	ext      string
	kind     fileKind
	mobile   bool
	staged   string
	written  int64
	finalRel string
	final    string
	msg      core.Message
}

// Process runs an upload through every stage. Errors are *Error values.
func (p *Pipeline) Process(ctx context.Context, up *Upload) (_ *Result, err error) {
	r := &run{
		p:  p,
		up: up,
		logger: p.log.With().
			Str("room_id", up.RoomID).
			Str("username", up.Username).
			Logger(),
	}
	defer r.cleanup(&err)

	steps := []struct {
		to Stage
		fn func(context.Context) error
	}{
		{StageReceived, r.receive},
		{StageValidated, r.validate},
		{StageStaged, r.stageFile},
		{StageRegistered, r.register},
		{StageFinalized, r.finalize},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return nil, err
		}
		r.stage = step.to
	}

	r.logger.Info().
		Str("message_id", r.msg.ID).
		Int64("size", r.written).
		Str("path", r.finalRel).
		Msg("upload finalized")

	return &Result{
		Message:   r.msg,
		Filename:  r.msg.File.Filename,
		FileType:  r.kind.fileType,
		MessageID: r.msg.ID,
		Size:      r.written,
		Mobile:    r.mobile,
	}, nil
}

func (r *run) receive(_ context.Context) error {
	up := r.up
	if up.Body == nil || displayName(up.Filename) == "" {
		return badRequest("no_file", "no file was sent")
	}
	if up.Size <= 0 {
		return badRequest("empty_file", "file is empty")
	}

	room := r.p.registry.GetRoom(up.RoomID)
	if room == nil {
		return newError(http.StatusNotFound, "room_not_found", "room not found", nil)
	}
	if !room.Active() {
		return newError(http.StatusForbidden, "room_inactive", "room is no longer active", nil)
	}
	if !r.p.registry.VerifyPassword(up.RoomID, up.Password) {
		return newError(http.StatusUnauthorized, "invalid_password", "invalid room password", nil)
	}
	if strings.TrimSpace(up.Username) == "" {
		return badRequest("username_required", "username is required")
	}
	return nil
}

func (r *run) validate(_ context.Context) error {
	name := displayName(r.up.Filename)
	r.ext = strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))

	kind, ok := allowed[r.ext]
	if !ok {
		return badRequest("invalid_extension", "only pdf, jpg, jpeg and png files are allowed")
	}
	r.kind = kind

	r.mobile = IsMobile(r.up.UserAgent)
	limit := r.p.cfg.MaxBytes
	if r.mobile {
		limit = r.p.cfg.MaxMobileBytes
	}
	if r.up.Size > limit {
		return badRequest("file_too_large", fmt.Sprintf("file exceeds the %d MB limit", limit>>20))
	}
	return nil
}

// stageFile writes the body to a uniquely named temp file and checks that
// it arrived whole and carries the signature its extension claims.
func (r *run) stageFile(_ context.Context) error {
	if err := os.MkdirAll(r.p.cfg.TempDir, 0o755); err != nil {
		return internal("prepare staging directory", err)
	}

	r.staged = filepath.Join(r.p.cfg.TempDir, uuid.NewString()+".part")
	f, err := os.OpenFile(r.staged, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		r.staged = ""
		return internal("create staged file", err)
	}

	r.written, err = io.Copy(f, io.LimitReader(r.up.Body, r.up.Size+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return internal("write staged file", err)
	}

	if r.written != r.up.Size {
		return badRequest("size_mismatch", "upload was truncated")
	}

	detected, err := mimetype.DetectFile(r.staged)
	if err != nil {
		return internal("inspect staged file", err)
	}
	if !matchesKind(detected, r.kind.mime) {
		r.logger.Warn().Str("detected", detected.String()).Str("claimed", r.ext).Msg("signature mismatch")
		return badRequest("signature_mismatch", "file content does not match its extension")
	}
	return nil
}

// matchesKind accepts subtypes of want, such as APNG for a PNG upload.
func matchesKind(detected *mimetype.MIME, want string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func (r *run) register(ctx context.Context) error {
	r.finalRel = path.Join(r.up.RoomID, uuid.NewString()+"."+r.ext)

	msg, err := r.p.registry.PostFile(ctx, r.up.RoomID, r.up.Username, displayName(r.up.Filename), r.finalRel, r.kind.fileType)
	if err != nil {
		if errors.Is(err, core.ErrRoomNotFound) {
			return newError(http.StatusNotFound, "room_not_found", "room not found", err)
		}
		return internal("register file message", err)
	}
	r.msg = msg
	return nil
}

// finalize moves the staged file into the room directory. If the file is
// not in place afterwards the message registered before is revoked.
func (r *run) finalize(ctx context.Context) error {
	r.final = filepath.Join(r.p.cfg.UploadDir, filepath.FromSlash(r.finalRel))

	err := os.MkdirAll(filepath.Dir(r.final), 0o755)
	if err == nil {
		err = r.p.rename(r.staged, r.final)
	}
	if err == nil {
		var info os.FileInfo
		if info, err = os.Stat(r.final); err == nil && info.Size() == 0 {
			err = errors.New("final file is empty")
		}
	}
	if err == nil {
		r.staged = ""
		return nil
	}

	if removeErr := os.Remove(r.final); removeErr != nil && !os.IsNotExist(removeErr) {
		r.logger.Warn().Err(removeErr).Str("path", r.final).Msg("remove partial file")
	}
	if revokeErr := r.p.registry.RevokeMessage(ctx, r.up.RoomID, r.msg.ID); revokeErr != nil {
		r.logger.Error().Err(revokeErr).Str("message_id", r.msg.ID).Msg("revoke file message")
	}
	return internal("finalize upload", err)
}

// cleanup removes the staged file on every exit path and logs failures
// with the last stage reached.
func (r *run) cleanup(errp *error) {
	if r.staged != "" {
		if err := os.Remove(r.staged); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("path", r.staged).Msg("remove staged file")
		}
	}
	if *errp == nil {
		return
	}

	var uerr *Error
	event := r.logger.Warn()
	if errors.As(*errp, &uerr) && uerr.Status >= http.StatusInternalServerError {
		event = r.logger.Error()
	}
	event.Err(*errp).Str("stage", r.stage.String()).Msg("upload rejected")
}

// displayName strips any client-side directory from name.
func displayName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSpace(name)
}
