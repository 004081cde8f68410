package http

import (
	"encoding/json"
	"path"
	"time"

	"github.com/vovakirdan/webtalk-server/internal/core"
	"github.com/vovakirdan/webtalk-server/internal/proto"
)

// uploadsPrefix is the URL prefix finalized files are served under.
const uploadsPrefix = "/uploads/"

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave:
		var data proto.RoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		kind := core.CommandJoinRoom
		if inbound.Type == proto.InboundTypeLeave {
			kind = core.CommandLeaveRoom
		}
		return &core.Command{
			Kind:     kind,
			RoomID:   data.RoomID,
			Username: data.Username,
		}, nil, nil
	case proto.InboundTypeChatMessage:
		var data proto.ChatMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind:     core.CommandSendText,
			RoomID:   data.RoomID,
			Username: data.Username,
			Text:     data.Message,
		}, nil, nil
	case proto.InboundTypeDeleteMessage:
		var data proto.DeleteMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind:      core.CommandDeleteMessage,
			RoomID:    data.RoomID,
			Username:  data.Username,
			MessageID: data.MessageID,
		}, nil, nil
	case proto.InboundTypeFileShared:
		var data proto.FileSharedData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.MessageID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "messageId is required"}, nil
		}
		return &core.Command{
			Kind:      core.CommandFileShared,
			RoomID:    data.RoomID,
			Username:  data.Username,
			MessageID: data.MessageID,
			Filename:  data.Filename,
			FileType:  data.FileType,
		}, nil, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventUserJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserJoined,
			Data:  proto.UserEvent{Username: event.Username},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserLeft,
			Data:  proto.UserEvent{Username: event.Username},
		}
	case core.EventChatMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventChatMessage,
			Data:  textMessage(event.Message),
		}
	case core.EventFileShared:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventFileShared,
			Data:  fileMessage(event.Message),
		}
	case core.EventMessageRemoved:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageRemoved,
			Data:  proto.MessageRemoved{MessageID: event.MessageID, Username: event.Username},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func textMessage(msg core.Message) proto.TextMessage {
	out := proto.TextMessage{
		ID:        msg.ID,
		Username:  msg.Author,
		Message:   msg.Text,
		Timestamp: formatTimestamp(msg.CreatedAt),
	}
	if msg.Deleted() {
		out.Message = core.DeletedTextPlaceholder
		out.Type = proto.TypeTextDeleted
		out.Deleted = true
	}
	return out
}

func fileMessage(msg core.Message) proto.FileMessage {
	out := proto.FileMessage{
		ID:        msg.ID,
		Username:  msg.Author,
		Type:      proto.TypeFile,
		Timestamp: formatTimestamp(msg.CreatedAt),
	}
	if msg.File != nil {
		out.Filename = msg.File.Filename
		out.FileType = msg.File.FileType
		if msg.File.Path != "" {
			out.FilePath = path.Join(uploadsPrefix, msg.File.Path)
		}
	}
	if msg.Deleted() {
		out.Type = proto.TypeFileDeleted
		out.Filename = core.DeletedFilePlaceholder
		out.FilePath = ""
		out.Deleted = true
	}
	return out
}

func roomSummary(s core.RoomSummary) proto.RoomSummary {
	return proto.RoomSummary{
		ID:           s.ID,
		Name:         s.Name,
		Creator:      s.Creator,
		CreatedAt:    formatTimestamp(s.CreatedAt),
		HasPassword:  s.HasPassword,
		Active:       s.Active,
		UserCount:    s.UserCount,
		MessageCount: s.MessageCount,
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
