package queue

import (
	"encoding/json"
	"fmt"
)

// EncodeMessage wraps payload in a Message envelope and JSON-encodes it.
func EncodeMessage(payload any, priority int) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{
		Data:      data,
		Priority:  priority,
		Timestamp: nowUnix(),
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// DecodeMessage parses a serialized Message envelope.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
