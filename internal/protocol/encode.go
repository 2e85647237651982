package protocol

import (
	"encoding/json"
	"strings"
)

// MarshalJSON flattens params beside id and action.
func (c Command) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(c.Params)+2)
	for k, v := range c.Params {
		body[k] = v
	}
	body[KeyID] = c.ID
	body[KeyAction] = c.Action
	return json.Marshal(body)
}

// EncodeCommand validates and encodes one relay -> agent command.
func EncodeCommand(cmd Command) ([]byte, error) {
	if strings.TrimSpace(cmd.ID) == "" {
		return nil, ErrMissingCommandID
	}
	if strings.TrimSpace(cmd.Action) == "" {
		return nil, ErrMissingAction
	}
	return json.Marshal(cmd)
}

// EncodeResultEnvelope encodes the agent -> relay reply for commandID.
func EncodeResultEnvelope(commandID string, result Result) ([]byte, error) {
	if strings.TrimSpace(commandID) == "" {
		return nil, ErrMissingCommandID
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      TypeResult,
		CommandID: commandID,
		Result:    raw,
	})
}

// EncodeHello encodes the agent identification message.
func EncodeHello(h Hello) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      TypeHello,
		SessionID: h.SessionID,
		Filename:  h.Filename,
	})
}
