package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Envelope types sent agent -> relay.
const (
	TypeResult = "result"
	TypeHello  = "hello"
)

// Reserved command keys. Parameters can never override them.
const (
	KeyID     = "id"
	KeyAction = "action"
)

// ActionExecuteScript is the single action the controller surface forwards.
const ActionExecuteScript = "execute_script"

// Command is the relay -> agent instruction. Params are flattened next to
// id and action on the wire: {"id":..., "action":..., "script":...}.
type Command struct {
	ID     string
	Action string
	Params map[string]any
}

// NewCommand copies params so the caller's map can be reused after dispatch.
func NewCommand(id, action string, params map[string]any) Command {
	cp := make(map[string]any, len(params))
	for k, v := range params {
		if k == KeyID || k == KeyAction {
			continue
		}
		cp[k] = v
	}
	return Command{ID: id, Action: action, Params: cp}
}

// StringParam returns a string parameter and whether it was present as a string.
func (c Command) StringParam(key string) (string, bool) {
	raw, ok := c.Params[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Result is the terminal value of one command.
//
// Results decoded from an agent keep the exact bytes the agent sent and
// re-encode to them unchanged, whether or not the agent sent an object. Results built with Failure or Success are
// local and encode from their fields.
type Result struct {
	Success bool
	Error   string

	raw json.RawMessage
}

// Failure builds a locally synthesized failure Result.
func Failure(message string) Result {
	return Result{Success: false, Error: message}
}

// Success builds a local success Result with an optional "result" value.
func Success(value any) (Result, error) {
	body := map[string]any{"success": true}
	if value != nil {
		body["result"] = value
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, raw: raw}, nil
}

// Local reports whether the result was synthesized by this process rather
// than decoded from an agent reply.
func (r Result) Local() bool {
	return len(r.raw) == 0
}

// Raw returns the agent-supplied bytes, or nil for local results.
func (r Result) Raw() json.RawMessage {
	return r.raw
}

// Field returns one top-level key of an agent-supplied result.
func (r Result) Field(key string) (json.RawMessage, bool) {
	if len(r.raw) == 0 {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.raw, &fields); err != nil {
		return nil, false
	}
	v, ok := fields[key]
	return v, ok
}

func (r Result) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	return json.Marshal(localResult{Success: r.Success, Error: r.Error})
}

// UnmarshalJSON keeps any JSON value. Objects fill Success and Error from
// their keys; other values count as unsuccessful but still re-encode to the
// exact bytes received.
func (r *Result) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return ErrMalformedResult
	}
	if trimmed[0] != '{' {
		r.Success = false
		r.Error = ""
		r.raw = append(json.RawMessage(nil), trimmed...)
		return nil
	}
	var head struct {
		Success bool            `json:"success"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return ErrMalformedResult
	}
	r.Success = head.Success
	r.Error = errorText(head.Error)
	r.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

type localResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// errorText flattens the agent's error value. Agents normally send a
// string; anything else is kept as its JSON text.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// Envelope is any agent -> relay message. Only the fields matching Type are set.
type Envelope struct {
	Type      string          `json:"type"`
	CommandID string          `json:"commandId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Filename  string          `json:"filename,omitempty"`
}

// IsResult reports whether the envelope answers a command.
func (e Envelope) IsResult() bool {
	return e.Type == TypeResult && e.CommandID != ""
}

// Hello extracts the agent identification carried by a hello envelope.
func (e Envelope) Hello() Hello {
	return Hello{SessionID: e.SessionID, Filename: e.Filename}
}

// Hello identifies the editor tab behind the agent connection.
type Hello struct {
	SessionID string `json:"sessionId,omitempty"`
	Filename  string `json:"filename,omitempty"`
}
