package http

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/proto"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x01}, 64)...)

type uploadForm struct {
	filename  string
	body      []byte
	username  string
	password  string
	userAgent string
}

func (e *testEnv) upload(t *testing.T, roomID string, form uploadForm) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if form.filename != "" {
		part, err := w.CreateFormFile("file", form.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(form.body); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	_ = w.WriteField("username", form.username)
	_ = w.WriteField("password", form.password)
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+roomID+"/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if form.userAgent != "" {
		req.Header.Set("User-Agent", form.userAgent)
	}

	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func TestUpload_FinalizesAndServesFile(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Files", "pw")

	resp := env.upload(t, room.ID, uploadForm{
		filename: "holiday.png",
		body:     pngBytes,
		username: "alice",
		password: " pw ",
	})
	expectStatus(t, resp, http.StatusOK)

	result := decode[proto.UploadResult](t, resp)
	if result.Filename != "holiday.png" || result.FileType != "image" || result.Mobile {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Size != int64(len(pngBytes)) {
		t.Fatalf("expected size %d, got %d", len(pngBytes), result.Size)
	}

	msg, ok := room.Message(result.MessageID)
	if !ok {
		t.Fatalf("message %s not in room", result.MessageID)
	}
	if msg.Kind != core.KindFile || msg.File == nil {
		t.Fatalf("expected file message, got %+v", msg)
	}

	// the finalized file is reachable under /uploads
	get := httptest.NewRequest(http.MethodGet, uploadsPrefix+msg.File.Path, nil)
	served := httptest.NewRecorder()
	env.router.ServeHTTP(served, get)
	expectStatus(t, served, http.StatusOK)
	if !bytes.Equal(served.Body.Bytes(), pngBytes) {
		t.Fatalf("served bytes differ from upload")
	}

	staged, err := os.ReadDir(env.cfg.StagingDir())
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(staged))
	}
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Files", "pw")
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0x02}, 2048)...)

	tests := []struct {
		name   string
		roomID string
		form   uploadForm
		want   int
	}{
		{"unknown room", "nosuchid", uploadForm{filename: "a.png", body: pngBytes, username: "alice"}, http.StatusNotFound},
		{"wrong password", room.ID, uploadForm{filename: "a.png", body: pngBytes, username: "alice", password: "nope"}, http.StatusUnauthorized},
		{"no file", room.ID, uploadForm{username: "alice", password: "pw"}, http.StatusBadRequest},
		{"bad extension", room.ID, uploadForm{filename: "a.exe", body: pngBytes, username: "alice", password: "pw"}, http.StatusBadRequest},
		{"signature mismatch", room.ID, uploadForm{filename: "a.pdf", body: pngBytes, username: "alice", password: "pw"}, http.StatusBadRequest},
		{"mobile limit", room.ID, uploadForm{filename: "a.png", body: big, username: "alice", password: "pw", userAgent: "Mozilla/5.0 (iPhone)"}, http.StatusBadRequest},
		{"missing username", room.ID, uploadForm{filename: "a.png", body: pngBytes, username: " ", password: "pw"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.upload(t, tt.roomID, tt.form)
			expectStatus(t, resp, tt.want)

			body := decode[ErrorResponse](t, resp)
			if strings.TrimSpace(body.Error) == "" {
				t.Fatalf("expected an error message")
			}
		})
	}

	if n := len(room.Messages()); n != 0 {
		t.Fatalf("expected no messages after rejections, got %d", n)
	}
}

func TestUpload_DesktopAcceptsWhatMobileRejects(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Files", "")
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0x02}, 2048)...)

	resp := env.upload(t, room.ID, uploadForm{filename: "big.png", body: big, username: "bob"})
	expectStatus(t, resp, http.StatusOK)
}
