package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InboundFrame is one client request: an action name, an opaque payload and an
// optional ackId. The ackId decides whether a reply is sent at all; without it
// the action is fire-and-forget.
type InboundFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   json.RawMessage `json:"ackId,omitempty"`
}

// WantsReply reports whether the client asked for a reply frame.
func (f *InboundFrame) WantsReply() bool {
	return len(f.AckID) > 0 && !bytes.Equal(f.AckID, []byte("null"))
}

// DecodedPayload unmarshals the payload into generic JSON values.
func (f *InboundFrame) DecodedPayload() any {
	if len(f.Payload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		return nil
	}
	return v
}

// ReplyFrame answers one acked inbound frame.
type ReplyFrame struct {
	AckID   json.RawMessage `json:"ackId"`
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// PushFrame is an unsolicited server-initiated event.
type PushFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func ParseFrame(raw []byte) (*InboundFrame, error) {
	f := &InboundFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Action == "" {
		return nil, fmt.Errorf("frame has no action")
	}
	return f, nil
}

func EncodeReply(ackID json.RawMessage, env ReplyEnvelope) ([]byte, error) {
	return json.Marshal(ReplyFrame{
		AckID:   ackID,
		Success: env.Success,
		Data:    env.Data,
		Message: env.Message,
	})
}

func EncodePush(event string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(PushFrame{Event: event, Payload: payload})
}
