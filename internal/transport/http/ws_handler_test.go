package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/proto"
)

type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func dialWS(ctx context.Context, t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func read(ctx context.Context, t *testing.T, conn *websocket.Conn) wireOutbound {
	t.Helper()

	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

// readEvent skips frames until the named event arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) wireOutbound {
	t.Helper()

	for {
		out := read(ctx, t, conn)
		if out.Type == proto.OutboundTypeError {
			t.Fatalf("unexpected error frame %+v while waiting for %s", out.Error, event)
		}
		if out.Event == event {
			return out
		}
	}
}

func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		out := read(ctx, t, conn)
		if out.Type == proto.OutboundTypeError {
			return out.Error
		}
	}
}

func TestWebSocket_ChatAndDelete(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Lobby", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(ctx, t, env)
	connB := dialWS(ctx, t, env)

	send(ctx, t, connA, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "alice"})
	readEvent(ctx, t, connA, proto.EventUserJoined)

	send(ctx, t, connB, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "bob"})
	joined := readEvent(ctx, t, connA, proto.EventUserJoined)
	var who proto.UserEvent
	if err := json.Unmarshal(joined.Data, &who); err != nil || who.Username != "bob" {
		t.Fatalf("expected bob joined, got %s (%v)", joined.Data, err)
	}
	readEvent(ctx, t, connB, proto.EventUserJoined)

	send(ctx, t, connA, proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: room.ID, Username: "alice", Message: "hi there"})

	out := readEvent(ctx, t, connB, proto.EventChatMessage)
	var msg proto.TextMessage
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("unmarshal chat message: %v", err)
	}
	if msg.Username != "alice" || msg.Message != "hi there" || msg.ID == "" {
		t.Fatalf("unexpected chat payload %+v", msg)
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		t.Fatalf("timestamp %q is not RFC3339: %v", msg.Timestamp, err)
	}
	readEvent(ctx, t, connA, proto.EventChatMessage)

	// bob may not delete alice's message
	send(ctx, t, connB, proto.InboundTypeDeleteMessage, proto.DeleteMessageData{RoomID: room.ID, Username: "bob", MessageID: msg.ID})
	if perr := readError(ctx, t, connB); perr.Code != core.ErrCodeDeleteDenied {
		t.Fatalf("expected delete_denied, got %+v", perr)
	}

	send(ctx, t, connA, proto.InboundTypeDeleteMessage, proto.DeleteMessageData{RoomID: room.ID, Username: "alice", MessageID: msg.ID})
	removed := readEvent(ctx, t, connB, proto.EventMessageRemoved)
	var rm proto.MessageRemoved
	if err := json.Unmarshal(removed.Data, &rm); err != nil || rm.MessageID != msg.ID {
		t.Fatalf("unexpected removal payload %s (%v)", removed.Data, err)
	}

	stored, ok := room.Message(msg.ID)
	if !ok || !stored.Deleted() {
		t.Fatalf("expected soft-deleted message to remain, got %+v", stored)
	}
}

func TestWebSocket_ReplayOnJoin(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Lobby", "")
	bg := context.Background()
	for _, text := range []string{"one", "two"} {
		if _, err := env.registry.PostTextMessage(bg, room.ID, "alice", text); err != nil {
			t.Fatalf("post: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(bg, 5*time.Second)
	defer cancel()
	conn := dialWS(ctx, t, env)

	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "carol"})
	readEvent(ctx, t, conn, proto.EventUserJoined)

	for _, want := range []string{"one", "two"} {
		out := readEvent(ctx, t, conn, proto.EventChatMessage)
		var msg proto.TextMessage
		if err := json.Unmarshal(out.Data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Message != want {
			t.Fatalf("expected replay %q, got %q", want, msg.Message)
		}
	}
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Lobby", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialWS(ctx, t, env)

	send(ctx, t, conn, "shout", map[string]string{})
	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for unknown type, got %+v", perr)
	}

	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: "nosuchid", Username: "alice"})
	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeRoomNotFound {
		t.Fatalf("expected room_not_found, got %+v", perr)
	}

	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "alice"})
	readEvent(ctx, t, conn, proto.EventUserJoined)

	long := strings.Repeat("x", core.MaxMessageLength+1)
	send(ctx, t, conn, proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: room.ID, Username: "alice", Message: long})
	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeMessageTooLong {
		t.Fatalf("expected message_too_long, got %+v", perr)
	}

	send(ctx, t, conn, proto.InboundTypeFileShared, proto.FileSharedData{RoomID: room.ID, Username: "alice"})
	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for fileShared without id, got %+v", perr)
	}
}

func TestWebSocket_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	limited := httptest.NewServer(NewWSHandler(env.hub, 2, wsReadLimit, env.logger))
	t.Cleanup(limited.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(limited.URL, "http", "ws", 1)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// leaving an unknown room is silent, so only the third frame answers
	for range 3 {
		send(ctx, t, conn, proto.InboundTypeLeave, proto.RoomData{RoomID: "x", Username: "y"})
	}
	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", perr)
	}
}

func TestWebSocket_DisconnectLeavesRooms(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Lobby", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	watcher := dialWS(ctx, t, env)
	send(ctx, t, watcher, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "watcher"})
	readEvent(ctx, t, watcher, proto.EventUserJoined)

	wsURL := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws"
	leaver, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	send(ctx, t, leaver, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "dave"})
	readEvent(ctx, t, watcher, proto.EventUserJoined)

	leaver.Close(websocket.StatusNormalClosure, "bye")

	out := readEvent(ctx, t, watcher, proto.EventUserLeft)
	var who proto.UserEvent
	if err := json.Unmarshal(out.Data, &who); err != nil || who.Username != "dave" {
		t.Fatalf("expected dave left, got %s (%v)", out.Data, err)
	}
	if room.UserCount() != 1 {
		t.Fatalf("expected one user left in room, got %v", room.Users())
	}
}

func TestWebSocket_AdminDeleteNotifiesMembers(t *testing.T) {
	env := newTestEnv(t)
	room := env.mustCreateRoom(t, "Lobby", "")
	token := env.adminToken(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env)
	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: room.ID, Username: "erin"})
	readEvent(ctx, t, conn, proto.EventUserJoined)

	expectStatus(t, env.do(t, http.MethodDelete, "/api/admin/rooms/"+room.ID, nil, token), http.StatusOK)

	if perr := readError(ctx, t, conn); perr.Code != core.ErrCodeRoomNotFound {
		t.Fatalf("expected room_not_found after delete, got %+v", perr)
	}
}
