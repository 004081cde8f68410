package attachment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/store"
	"github.com/vovakirdan/webtalk-server/internal/store/sqlite"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x01}, 64)...)
	pdfBytes = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 64)...)
)

// apngBytes is a PNG signature and IHDR followed by an acTL chunk.
var apngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"+
	"\x00\x00\x00\x10\x00\x00\x00\x10\x08\x06\x00\x00\x00"+
	"\x00\x00\x00\x00"+
	"\x00\x00\x00\x08acTL"), bytes.Repeat([]byte{0x01}, 64)...)

type failingFileStore struct {
	store.Store
	fail bool
}

func (f *failingFileStore) SaveFileMessage(ctx context.Context, msg *store.Message) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.SaveFileMessage(ctx, msg)
}

type fixture struct {
	reg      *core.Registry
	pipeline *Pipeline
	st       *failingFileStore
	room     *core.Room
	locked   *core.Room
	cfg      Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = base.Close() })

	st := &failingFileStore{Store: base}
	root := t.TempDir()
	cfg := Config{
		UploadDir:      filepath.Join(root, "uploads"),
		TempDir:        filepath.Join(root, "tmp"),
		MaxBytes:       1024,
		MaxMobileBytes: 100,
	}
	reg := core.NewRegistry(st, core.RegistryConfig{UploadDir: cfg.UploadDir}, nil)

	ctx := context.Background()
	room, err := reg.CreateRoom(ctx, "Files", "alice", "")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	locked, err := reg.CreateRoom(ctx, "Locked", "alice", "pw")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	return &fixture{
		reg:      reg,
		pipeline: NewPipeline(reg, cfg, nil),
		st:       st,
		room:     room,
		locked:   locked,
		cfg:      cfg,
	}
}

func (f *fixture) upload(roomID, name string, body []byte) *Upload {
	return &Upload{
		RoomID:   roomID,
		Username: "alice",
		Filename: name,
		Size:     int64(len(body)),
		Body:     bytes.NewReader(body),
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", dir, len(entries))
	}
}

func TestProcessFinalizesUpload(t *testing.T) {
	f := newFixture(t)

	up := f.upload(f.room.ID, `C:\Users\alice\cat.PNG`, pngBytes)
	res, err := f.pipeline.Process(context.Background(), up)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Filename != "cat.PNG" || res.FileType != "image" || res.Size != int64(len(pngBytes)) || res.Mobile {
		t.Fatalf("unexpected result: %+v", res)
	}

	msg, ok := f.room.Message(res.MessageID)
	if !ok || msg.Kind != core.KindFile {
		t.Fatalf("file message not registered: %+v", msg)
	}
	full, ok := f.reg.UploadPath(msg.File.Path)
	if !ok {
		t.Fatalf("stored path %q does not resolve", msg.File.Path)
	}
	data, err := os.ReadFile(full)
	if err != nil || !bytes.Equal(data, pngBytes) {
		t.Fatalf("final file content mismatch, err=%v", err)
	}
	if filepath.Base(full) == "cat.PNG" {
		t.Fatalf("original name must not be the storage name")
	}
	assertDirEmpty(t, f.cfg.TempDir)
}

func TestProcessAcceptsAnimatedPNG(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Process(context.Background(), f.upload(f.room.ID, "anim.png", apngBytes))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.FileType != "image" {
		t.Fatalf("unexpected file type %q", res.FileType)
	}
	if _, ok := f.room.Message(res.MessageID); !ok {
		t.Fatalf("file message not registered")
	}
}

func TestProcessRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		up     *Upload
		status int
		code   string
	}{
		{"unknown room", f.upload("ghost", "a.png", pngBytes), http.StatusNotFound, "room_not_found"},
		{"wrong password", f.upload(f.locked.ID, "a.png", pngBytes), http.StatusUnauthorized, "invalid_password"},
		{"no filename", f.upload(f.room.ID, "", pngBytes), http.StatusBadRequest, "no_file"},
		{"empty file", f.upload(f.room.ID, "a.png", nil), http.StatusBadRequest, "empty_file"},
		{"disallowed extension", f.upload(f.room.ID, "a.exe", pngBytes), http.StatusBadRequest, "invalid_extension"},
		{"too large", f.upload(f.room.ID, "a.png", bytes.Repeat([]byte{1}, 2048)), http.StatusBadRequest, "file_too_large"},
		{"signature mismatch", f.upload(f.room.ID, "a.pdf", pngBytes), http.StatusBadRequest, "signature_mismatch"},
		{
			"mobile limit",
			&Upload{RoomID: f.room.ID, Username: "alice", Filename: "a.pdf", Size: 200, Body: bytes.NewReader(bytes.Repeat([]byte{1}, 200)), UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"},
			http.StatusBadRequest, "file_too_large",
		},
		{
			"truncated transfer",
			&Upload{RoomID: f.room.ID, Username: "alice", Filename: "a.pdf", Size: int64(len(pdfBytes)) + 10, Body: bytes.NewReader(pdfBytes)},
			http.StatusBadRequest, "size_mismatch",
		},
		{
			"missing username",
			&Upload{RoomID: f.room.ID, Filename: "a.pdf", Size: int64(len(pdfBytes)), Body: bytes.NewReader(pdfBytes)},
			http.StatusBadRequest, "username_required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Process(context.Background(), tt.up)
			var uerr *Error
			if !errors.As(err, &uerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if uerr.Status != tt.status || uerr.Code != tt.code {
				t.Fatalf("expected %d/%s, got %d/%s", tt.status, tt.code, uerr.Status, uerr.Code)
			}
			assertDirEmpty(t, f.cfg.TempDir)
		})
	}

	if n := len(f.room.Messages()); n != 0 {
		t.Fatalf("rejected uploads must not register messages, got %d", n)
	}
	assertDirEmpty(t, f.cfg.UploadDir)
}

func TestProcessInactiveRoom(t *testing.T) {
	f := newFixture(t)
	if _, err := f.reg.SweepExpired(context.Background(), -1); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	_, err := f.pipeline.Process(context.Background(), f.upload(f.room.ID, "a.pdf", pdfBytes))
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestProcessRegistrationFailureLeavesNoBytes(t *testing.T) {
	f := newFixture(t)
	f.st.fail = true

	_, err := f.pipeline.Process(context.Background(), f.upload(f.room.ID, "doc.pdf", pdfBytes))
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}

	assertDirEmpty(t, f.cfg.TempDir)
	assertDirEmpty(t, f.cfg.UploadDir)
	if n := len(f.room.Messages()); n != 0 {
		t.Fatalf("expected no messages, got %d", n)
	}
}

func TestProcessFinalizeFailureRevokesMessage(t *testing.T) {
	f := newFixture(t)
	f.pipeline.rename = func(string, string) error {
		return errors.New("cross-device link")
	}

	_, err := f.pipeline.Process(context.Background(), f.upload(f.room.ID, "doc.pdf", pdfBytes))
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}

	assertDirEmpty(t, f.cfg.TempDir)
	if n := len(f.room.Messages()); n != 0 {
		t.Fatalf("expected revoked message, got %d messages", n)
	}

	if err := f.reg.Load(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if n := len(f.reg.GetRoom(f.room.ID).Messages()); n != 0 {
		t.Fatalf("revoked row survived in store: %d messages", n)
	}
}

func TestIsMobile(t *testing.T) {
	tests := []struct {
		ua   string
		want bool
	}{
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile Safari/537.36", true},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", true},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMobile(tt.ua); got != tt.want {
			t.Fatalf("IsMobile(%q) = %v, want %v", tt.ua, got, tt.want)
		}
	}
}
