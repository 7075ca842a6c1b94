package ws

import (
	"encoding/json"
)

// Frame is the envelope every WebSocket message uses, both directions.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func encodeFrame(kind string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Type: kind, Payload: payload})
}

// clientCommand is what an attached client may send upstream. Only ping is
// understood; everything else is ignored.
type clientCommand struct {
	Type string `json:"type"`
}
