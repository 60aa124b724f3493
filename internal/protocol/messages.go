package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAnalyze   MessageType = "analyze"
	TypeStop      MessageType = "stop"
	TypeReady     MessageType = "ready"
	TypeFeedback  MessageType = "feedback"
	TypeProgress  MessageType = "progress"
	TypeCompleted MessageType = "completed"
	TypeError     MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Analyze carries one client-submitted media segment.
type Analyze struct {
	Type      MessageType `json:"type"`
	VideoData string      `json:"videoData"`
	MimeType  string      `json:"mimeType,omitempty"`
}

// Stop ends a live session from the client side.
type Stop struct {
	Type MessageType `json:"type"`
}

// Ready confirms the channel is attached and accepting segments.
type Ready struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Feedback is one coaching result in segment order.
type Feedback struct {
	Type        MessageType `json:"type"`
	Text        string      `json:"text"`
	AudioBase64 string      `json:"audioBase64,omitempty"`
	AudioFormat string      `json:"audioFormat,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// Progress reports upload processing advancement; segment is 1-based.
type Progress struct {
	Type    MessageType `json:"type"`
	Segment int         `json:"segment"`
	Total   int         `json:"total"`
	Text    string      `json:"text,omitempty"`
}

// Completed announces the assembled output artifact.
type Completed struct {
	Type        MessageType `json:"type"`
	DownloadURL string      `json:"download_url"`
}

// Error surfaces a failed segment or protocol violation.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Reconnect policy constants for clients resuming after an abnormal
// disconnect. The server replays nothing; only future events flow.
const (
	ReconnectBackoffBaseMS = 1000
	ReconnectBackoffFactor = 2
	ReconnectBackoffCapMS  = 10000
	ReconnectMaxAttempts   = 5
)

// ParseClientMessage decodes and validates one inbound message.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAnalyze:
		var msg Analyze
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.VideoData == "" {
			return nil, errors.New("analyze message carries no video data")
		}
		return msg, nil
	case TypeStop:
		return Stop{Type: TypeStop}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the message type of an outbound payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case Analyze:
		return m.Type, true
	case Stop:
		return m.Type, true
	case Ready:
		return m.Type, true
	case Feedback:
		return m.Type, true
	case Progress:
		return m.Type, true
	case Completed:
		return m.Type, true
	case Error:
		return m.Type, true
	default:
		return "", false
	}
}
