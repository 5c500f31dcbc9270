package connect

import (
	"encoding/json"
	"fmt"
)

// the per-user streams carry framed json text. a chat frame is either a
// message document or a connection-status object; a notification frame is a
// notification document. every inbound frame decodes to exactly one
// `StreamEvent`.

type StreamEventType int

const (
	// connection state transition (open, reconnecting, disconnected)
	StreamEventTypeState StreamEventType = iota
	StreamEventTypeMessage
	StreamEventTypeNotification
	StreamEventTypeStatus
)

func (self StreamEventType) String() string {
	switch self {
	case StreamEventTypeState:
		return "state"
	case StreamEventTypeMessage:
		return "message"
	case StreamEventTypeNotification:
		return "notification"
	case StreamEventTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

// server status object, e.g. `{"status": "connected", "user_id": "alice"}`
// or a send receipt `{"status": "Mensaje enviado", "message_id": "..."}`
type StreamStatus struct {
	Status    string `json:"status"`
	UserId    string `json:"user_id,omitempty"`
	MessageId string `json:"message_id,omitempty"`
}

type StreamEvent struct {
	Type         StreamEventType
	State        ConnectionState
	Message      *ChatMessage
	Notification *Notification
	Status       *StreamStatus
	// set on fatal state transitions, e.g. an auth rejection
	Err error
}

func newStateEvent(state ConnectionState, err error) *StreamEvent {
	return &StreamEvent{
		Type:  StreamEventTypeState,
		State: state,
		Err:   err,
	}
}

// one frame in, one event out. a frame that cannot be decoded is an error
// for the caller to log and drop, never to propagate.
func DecodeChatFrame(frameBytes []byte) (*StreamEvent, error) {
	// a chat frame is a single json object. the status and message shapes
	// share no required keys, so decode the union and branch.
	var frame struct {
		Status          string `json:"status"`
		StatusUserId    string `json:"user_id"`
		StatusMessageId string `json:"message_id"`
		ChatMessage
	}
	if err := json.Unmarshal(frameBytes, &frame); err != nil {
		return nil, fmt.Errorf("malformed chat frame: %w", err)
	}
	if frame.Status != "" {
		return &StreamEvent{
			Type: StreamEventTypeStatus,
			Status: &StreamStatus{
				Status:    frame.Status,
				UserId:    frame.StatusUserId,
				MessageId: frame.StatusMessageId,
			},
		}, nil
	}
	if frame.SenderId != "" && frame.ReceiverId != "" {
		message := frame.ChatMessage
		return &StreamEvent{
			Type:    StreamEventTypeMessage,
			Message: &message,
		}, nil
	}
	return nil, fmt.Errorf("malformed chat frame: no status or message")
}

func DecodeNotificationFrame(frameBytes []byte) (*StreamEvent, error) {
	var notification Notification
	if err := json.Unmarshal(frameBytes, &notification); err != nil {
		return nil, fmt.Errorf("malformed notification frame: %w", err)
	}
	if notification.Message == "" {
		return nil, fmt.Errorf("malformed notification frame: no message")
	}
	return &StreamEvent{
		Type:         StreamEventTypeNotification,
		Notification: &notification,
	}, nil
}

// outbound chat frame. the server assigns `_id` and `created_at`;
// the correlation id rides along for the echo match.
func EncodeMessageFrame(message *ChatMessage) ([]byte, error) {
	frame := map[string]string{
		"sender_id":   NormalizeUserId(message.SenderId),
		"receiver_id": NormalizeUserId(message.ReceiverId),
		"content":     message.Content,
	}
	if message.CorrelationId != "" {
		frame["correlation_id"] = message.CorrelationId
	}
	return json.Marshal(frame)
}
