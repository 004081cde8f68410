package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom adds the session to a room's delivery group.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom removes the session from a room's delivery group.
	CommandLeaveRoom
	// CommandSendText posts a text message to a room.
	CommandSendText
	// CommandDeleteMessage soft-deletes one of the sender's messages.
	CommandDeleteMessage
	// CommandFileShared announces a file message created by an upload.
	CommandFileShared
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	RoomID    string
	Username  string
	Text      string
	MessageID string
	Filename  string
	FileType  string
}
