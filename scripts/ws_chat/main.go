package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/webtalk-server/internal/proto"
)

type outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "username")
	room := flag.String("room", "", "room id to join")
	flag.Parse()

	if *room == "" {
		return errors.New("-room is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: *room, Username: *user}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s in room %s\n", *addr, *user, *room)
	fmt.Println("Type messages and press Enter to send. /delete <id> removes one of yours. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *room, *user)

	_ = send(ctx, conn, proto.InboundTypeLeave, proto.RoomData{RoomID: *room, Username: *user})
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if out.Error != nil {
			fmt.Printf("! %s: %s\n", out.Error.Code, out.Error.Msg)
			continue
		}

		switch out.Event {
		case proto.EventChatMessage:
			var msg proto.TextMessage
			if err := json.Unmarshal(out.Data, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[%s] %s: %s (%s)\n", msg.Timestamp, msg.Username, msg.Message, msg.ID)
		case proto.EventFileShared:
			var msg proto.FileMessage
			if err := json.Unmarshal(out.Data, &msg); err != nil {
				log.Printf("unmarshal file: %v", err)
				continue
			}
			fmt.Printf("[%s] %s shared %s %s (%s)\n", msg.Timestamp, msg.Username, msg.Filename, msg.FilePath, msg.ID)
		case proto.EventUserJoined, proto.EventUserLeft:
			var evt proto.UserEvent
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal %s: %v", out.Event, err)
				continue
			}
			fmt.Printf("* %s %s\n", evt.Username, strings.ToLower(strings.TrimPrefix(out.Event, "user")))
		case proto.EventMessageRemoved:
			var evt proto.MessageRemoved
			if err := json.Unmarshal(out.Data, &evt); err != nil {
				log.Printf("unmarshal removal: %v", err)
				continue
			}
			fmt.Printf("* %s deleted %s\n", evt.Username, evt.MessageID)
		default:
			fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room, user string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			if id, found := strings.CutPrefix(text, "/delete "); found {
				err = send(ctx, conn, proto.InboundTypeDeleteMessage, proto.DeleteMessageData{RoomID: room, Username: user, MessageID: strings.TrimSpace(id)})
			} else {
				err = send(ctx, conn, proto.InboundTypeChatMessage, proto.ChatMessageData{RoomID: room, Username: user, Message: text})
			}
			if err != nil {
				log.Printf("%v", err)
				return
			}
		}
	}
}
