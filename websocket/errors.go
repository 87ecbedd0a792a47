package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrNotConnected      = errors.New("websocket not connected")
	ErrConnectInProgress = errors.New("websocket connect already in progress")

	errClientDisconnected = errors.New("client disconnected")
	errConnectSuperseded  = errors.New("connect superseded by a newer request")
)

// TransportError reports that the connection could not be opened or written to.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("websocket %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an inbound message that could not be parsed.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ServerError carries the payload of an inbound error message.
type ServerError struct {
	Payload json.RawMessage
}

func (e *ServerError) Error() string {
	if len(e.Payload) == 0 {
		return "server error"
	}

	res := gjson.ParseBytes(e.Payload)
	switch {
	case res.Type == gjson.String:
		return "server error: " + res.Str
	case res.Get("message").Exists():
		return "server error: " + res.Get("message").String()
	default:
		return "server error: " + res.Raw
	}
}
