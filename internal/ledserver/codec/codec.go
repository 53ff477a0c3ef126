// Package codec translates between /led payloads and actuator commands.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/autopeer-io/ledserver/internal/ledserver/actuator"
)

// ErrInvalidJSON is returned by Decode for payloads that are not JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Status tags carried by a StateReport.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Messages used by the command server.
const (
	MessageUpdated      = "LED state updated"
	MessageUpdateFailed = "Failed to update LED state"
	MessageInvalidJSON  = "Invalid JSON"
)

const (
	commandField     = "command"
	commandSeparator = ":"
	actionOn         = "on"
	actionOff        = "off"
)

// Action is the requested output value.
type Action bool

const (
	Off Action = false
	On  Action = true
)

func (a Action) String() string {
	if a {
		return actionOn
	}
	return actionOff
}

// Command is a decoded request to drive one actuator.
type Command struct {
	Target actuator.ID
	Action Action
}

func (c Command) String() string {
	return string(c.Target) + commandSeparator + c.Action.String()
}

// Decode parses payload. Any single valid JSON value is accepted; anything
// but whitespace after it makes the payload invalid. ok is false when it does
// not carry a recognizable "<name>:<on|off>" command under the exact key
// "command". The target is not checked against the configured actuators.
func Decode(payload []byte) (cmd Command, ok bool, err error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return Command{}, false, ErrInvalidJSON
	}

	obj, isObj := v.(map[string]any)
	if !isObj {
		return Command{}, false, nil
	}
	raw, isStr := obj[commandField].(string)
	if !isStr {
		return Command{}, false, nil
	}

	cmd, ok = ParseCommand(raw)
	return cmd, ok, nil
}

// ParseCommand parses "<name>:<on|off>".
func ParseCommand(s string) (Command, bool) {
	name, action, found := strings.Cut(s, commandSeparator)
	if !found || name == "" {
		return Command{}, false
	}

	switch action {
	case actionOn:
		return Command{Target: actuator.ID(name), Action: On}, true
	case actionOff:
		return Command{Target: actuator.ID(name), Action: Off}, true
	default:
		return Command{}, false
	}
}

// StateReport is the response to a /led command.
type StateReport struct {
	Status   string
	Message  string
	Snapshot actuator.Snapshot
}

// Encode renders r with keys in a fixed order: status, message, then one
// boolean per actuator in configuration order.
func Encode(r StateReport) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "status", r.Status)
	buf.WriteByte(',')
	writeField(&buf, "message", r.Message)
	for _, st := range r.Snapshot {
		buf.WriteByte(',')
		writeField(&buf, string(st.ID), st.On)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// EncodeError renders {"error": msg}.
func EncodeError(msg string) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, "error", msg)
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, key string, value any) {
	k, _ := json.Marshal(key)
	v, _ := json.Marshal(value)
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
}
