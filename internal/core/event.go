package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUserJoined notifies a room that a user joined.
	EventUserJoined EventKind = iota
	// EventUserLeft notifies a room that a user left.
	EventUserLeft
	// EventChatMessage carries a text message, live or replayed.
	EventChatMessage
	// EventFileShared carries a file message, live or replayed.
	EventFileShared
	// EventMessageRemoved tells a room that a message was soft-deleted.
	EventMessageRemoved
	// EventError notifies a single client about a failed command.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUserJoined:
		return "userJoined"
	case EventUserLeft:
		return "userLeft"
	case EventChatMessage:
		return "chatMessage"
	case EventFileShared:
		return "fileShared"
	case EventMessageRemoved:
		return "messageRemoved"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	RoomID    string
	Username  string
	MessageID string
	Message   Message
	Error     *CoreError
}

func messageEvent(msg Message) *Event {
	kind := EventChatMessage
	if msg.Kind.IsFile() {
		kind = EventFileShared
	}
	return &Event{Kind: kind, RoomID: msg.RoomID, Username: msg.Author, MessageID: msg.ID, Message: msg}
}

func errorEvent(roomID string, err *CoreError) *Event {
	return &Event{Kind: EventError, RoomID: roomID, Error: err}
}
