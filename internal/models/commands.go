package models

import (
	"encoding/json"
	"fmt"
)

// Inbound command kinds.
const (
	CommandSendDirectMessage    = "SendDirectMessage"
	CommandSubscribeEvent       = "SubscribeEvent"
	CommandMarkConversationRead = "MarkConversationRead"
)

// Command is a client invocation received over the websocket.
type Command interface {
	CommandType() string
}

type SendDirectMessageCommand struct {
	ToUserID string `json:"toUserId"`
	Content  string `json:"content"`
}

func (SendDirectMessageCommand) CommandType() string { return CommandSendDirectMessage }

type SubscribeEventCommand struct {
	EventID string `json:"eventId"`
}

func (SubscribeEventCommand) CommandType() string { return CommandSubscribeEvent }

type MarkConversationReadCommand struct {
	ConversationID string `json:"conversationId"`
}

func (MarkConversationReadCommand) CommandType() string { return CommandMarkConversationRead }

// DecodeCommand parses an inbound frame into its typed command.
func DecodeCommand(data []byte) (Command, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch frame.Type {
	case CommandSendDirectMessage:
		var cmd SendDirectMessageCommand
		if err := decodePayload(frame, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case CommandSubscribeEvent:
		var cmd SubscribeEventCommand
		if err := decodePayload(frame, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case CommandMarkConversationRead:
		var cmd MarkConversationReadCommand
		if err := decodePayload(frame, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
}

func decodePayload(frame Frame, dst any) error {
	if len(frame.Payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", frame.Type)
	}
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		return fmt.Errorf("decode %s: %w", frame.Type, err)
	}
	return nil
}
