package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeEnvelope parses one inbound agent message.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// DecodeResult parses the result payload of a result envelope. Any JSON
// value is accepted; only a missing or invalid payload is malformed.
func DecodeResult(raw json.RawMessage) (Result, error) {
	var res Result
	if err := res.UnmarshalJSON(raw); err != nil {
		return Result{}, err
	}
	return res, nil
}

// DecodeCommand parses one relay -> agent command on the agent side.
func DecodeCommand(data []byte) (Command, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	id, _ := body[KeyID].(string)
	if id == "" {
		return Command{}, ErrMissingCommandID
	}
	action, _ := body[KeyAction].(string)
	if action == "" {
		return Command{}, ErrMissingAction
	}
	delete(body, KeyID)
	delete(body, KeyAction)
	return Command{ID: id, Action: action, Params: body}, nil
}
