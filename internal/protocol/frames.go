// Package protocol defines the JSON frame formats exchanged over a chat
// connection and their codecs. Frames are a closed tagged union: decoding
// rejects unknown tags instead of falling through silently.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KeertanaGupta/mediprior-V0/internal/models"
)

// Server-to-client frame type tags.
const (
	TypeHistory  = "history"
	TypeMessage  = "message"
	TypeCleared  = "cleared"
	TypeError    = "error"
	TypePresence = "presence"
)

// ErrorCode values carried by error frames.
type ErrorCode string

const (
	CodeLimitReached ErrorCode = "limit_reached"
	CodeBusy         ErrorCode = "busy"
	CodeOffline      ErrorCode = "offline"
)

var (
	ErrUnknownFrameType = errors.New("protocol: unknown frame type")
	ErrAmbiguousFrame   = errors.New("protocol: frame must carry exactly one of message or command")
)

// WireMessage is the message shape carried inside history and message frames.
type WireMessage struct {
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerFrame is one inbound frame as seen by a client.
type ServerFrame interface{ serverFrame() }

// HistoryFrame replays the full conversation log, sent once after connect.
type HistoryFrame struct {
	Messages []WireMessage
}

// MessageFrame delivers one live chat message, including the sender's echo.
type MessageFrame struct {
	WireMessage
}

// ClearedFrame acknowledges that the conversation history was purged.
type ClearedFrame struct{}

// ErrorFrame surfaces a server-side rejection or condition.
type ErrorFrame struct {
	Message string
	Code    ErrorCode
}

// PresenceFrame pushes the counterpart's availability.
type PresenceFrame struct {
	UserID string
	Status models.Availability
}

func (HistoryFrame) serverFrame()  {}
func (MessageFrame) serverFrame()  {}
func (ClearedFrame) serverFrame()  {}
func (ErrorFrame) serverFrame()    {}
func (PresenceFrame) serverFrame() {}

// rawServerFrame is the superset wire shape used for decoding.
type rawServerFrame struct {
	Type      string              `json:"type"`
	Messages  []WireMessage       `json:"messages,omitempty"`
	SenderID  string              `json:"sender_id,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp,omitempty"`
	Code      ErrorCode           `json:"code,omitempty"`
	UserID    string              `json:"user_id,omitempty"`
	Status    models.Availability `json:"status,omitempty"`
}

// DecodeServerFrame parses one inbound frame. Unknown type tags are rejected
// with ErrUnknownFrameType so callers can drop them with a diagnostic.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var raw rawServerFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("protocol: decode frame: %w", err)
	}
	switch raw.Type {
	case TypeHistory:
		return HistoryFrame{Messages: raw.Messages}, nil
	case TypeMessage:
		return MessageFrame{WireMessage{
			SenderID:  raw.SenderID,
			Message:   raw.Message,
			Timestamp: raw.Timestamp,
		}}, nil
	case TypeCleared:
		return ClearedFrame{}, nil
	case TypeError:
		return ErrorFrame{Message: raw.Message, Code: raw.Code}, nil
	case TypePresence:
		return PresenceFrame{UserID: raw.UserID, Status: raw.Status}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, raw.Type)
	}
}

// EncodeHistory builds a history frame.
func EncodeHistory(messages []WireMessage) ([]byte, error) {
	if messages == nil {
		messages = []WireMessage{}
	}
	return json.Marshal(struct {
		Type     string        `json:"type"`
		Messages []WireMessage `json:"messages"`
	}{TypeHistory, messages})
}

// EncodeMessage builds a live message frame.
func EncodeMessage(m WireMessage) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		WireMessage
	}{TypeMessage, m})
}

// EncodeCleared builds a cleared acknowledgment frame.
func EncodeCleared() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypeCleared})
}

// EncodeError builds an error frame.
func EncodeError(code ErrorCode, message string) ([]byte, error) {
	return json.Marshal(struct {
		Type    string    `json:"type"`
		Message string    `json:"message"`
		Code    ErrorCode `json:"code"`
	}{TypeError, message, code})
}

// EncodePresence builds a presence frame.
func EncodePresence(userID string, status models.Availability) ([]byte, error) {
	return json.Marshal(struct {
		Type   string              `json:"type"`
		UserID string              `json:"user_id"`
		Status models.Availability `json:"status"`
	}{TypePresence, userID, status})
}

// Command names accepted over the command channel.
const CommandClearHistory = "clear_history"

// ClientFrame is one outbound frame as seen by the server. The two variants
// are discriminated by which field is present, never both.
type ClientFrame interface{ clientFrame() }

// ChatSend carries one chat message body.
type ChatSend struct {
	Message string
}

// Command carries one out-of-band control command.
type Command struct {
	Name string
}

func (ChatSend) clientFrame() {}
func (Command) clientFrame()  {}

// DecodeClientFrame parses one outbound frame. A frame carrying both a
// message and a command, or neither, is rejected.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var raw struct {
		Message *string `json:"message"`
		Command *string `json:"command"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("protocol: decode client frame: %w", err)
	}
	switch {
	case raw.Message != nil && raw.Command == nil:
		return ChatSend{Message: *raw.Message}, nil
	case raw.Command != nil && raw.Message == nil:
		return Command{Name: *raw.Command}, nil
	default:
		return nil, ErrAmbiguousFrame
	}
}

// EncodeChatSend builds the outbound chat frame.
func EncodeChatSend(message string) ([]byte, error) {
	return json.Marshal(struct {
		Message string `json:"message"`
	}{message})
}

// EncodeCommand builds the outbound command frame.
func EncodeCommand(name string) ([]byte, error) {
	return json.Marshal(struct {
		Command string `json:"command"`
	}{name})
}
