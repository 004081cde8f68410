package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/webtalk-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	user := flag.String("user", "tester", "username to join with")
	room := flag.String("room", "", "room id to join; empty creates a new room")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	roomID := *room
	if roomID == "" {
		id, err := createRoom(ctx, *base, *user)
		if err != nil {
			return err
		}
		roomID = id
		fmt.Printf("Created room %s\n", roomID)
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeJoin, proto.RoomData{RoomID: roomID, Username: *user}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: roomID, Username: *user, Message: *text}); err != nil {
		return err
	}

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if outbound.Error != nil {
			return fmt.Errorf("server error %s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		fmt.Printf("Received %s event=%s\n", outbound.Type, outbound.Event)

		if outbound.Event != proto.EventChatMessage {
			continue
		}
		var msg proto.TextMessage
		if err := json.Unmarshal(outbound.Data, &msg); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		fmt.Printf("Message: id=%s user=%s text=%q ts=%s\n", msg.ID, msg.Username, msg.Message, msg.Timestamp)
		if msg.Username == *user && msg.Message == *text {
			return nil
		}
	}
}

func createRoom(ctx context.Context, base, creator string) (string, error) {
	body, err := json.Marshal(map[string]string{"name": "smoke", "creator": creator})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room: unexpected status %d", resp.StatusCode)
	}
	var created struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode room: %w", err)
	}
	return created.RoomID, nil
}
