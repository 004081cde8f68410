package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin          = "join"
	InboundTypeLeave         = "leave"
	InboundTypeChatMessage   = "chatMessage"
	InboundTypeDeleteMessage = "deleteMessage"
	InboundTypeFileShared    = "fileShared"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventUserJoined     = "userJoined"
	EventUserLeft       = "userLeft"
	EventChatMessage    = "chatMessage"
	EventMessageRemoved = "messageRemoved"
	EventFileShared     = "fileShared"

	TypeText        = "text"
	TypeTextDeleted = "text-deleted"
	TypeFile        = "file"
	TypeFileDeleted = "file-deleted"
)

// RoomData is the payload of join and leave.
type RoomData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// ChatMessageData is a text message from the client.
type ChatMessageData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

// DeleteMessageData asks to soft-delete one of the sender's messages.
type DeleteMessageData struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	MessageID string `json:"messageId"`
}

// FileSharedData announces a file that was just uploaded.
type FileSharedData struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	MessageID string `json:"messageId"`
	Filename  string `json:"filename,omitempty"`
	FileType  string `json:"fileType,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// TextMessage is the wire shape of a text message.
type TextMessage struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// FileMessage is the wire shape of a file message. FilePath is omitted once
// the file is deleted.
type FileMessage struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Type      string `json:"type"`
	Filename  string `json:"filename"`
	FilePath  string `json:"filePath,omitempty"`
	FileType  string `json:"fileType"`
	Timestamp string `json:"timestamp"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// UserEvent notifies that a user joined or left.
type UserEvent struct {
	Username string `json:"username"`
}

// MessageRemoved tells clients to replace a message with its placeholder.
type MessageRemoved struct {
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
}

// RoomSummary is a room as listed by the API.
type RoomSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Creator      string `json:"creator"`
	CreatedAt    string `json:"createdAt"`
	HasPassword  bool   `json:"hasPassword"`
	Active       bool   `json:"active"`
	UserCount    int    `json:"userCount"`
	MessageCount int    `json:"messageCount"`
}

// UploadResult is the response to a finalized upload.
type UploadResult struct {
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	FileType  string `json:"fileType"`
	MessageID string `json:"messageId"`
	Size      int64  `json:"size"`
	Mobile    bool   `json:"mobile"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
