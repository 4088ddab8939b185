package services

import (
	"encoding/json"
	"fmt"

	"github.com/lorrc/workspace-realtime/internal/core/domain"
)

// marshalPayload encodes the payload of one outbound message. A nil payload
// yields an empty message body.
func marshalPayload(msgType domain.ServerMessageType, payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return json.RawMessage(data), nil
}
