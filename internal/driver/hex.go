package driver

import (
	"encoding/hex"
	"encoding/json"
)

// HexBytes is a byte slice that renders as a lowercase hexadecimal string in
// JSON. Device payloads carry binary fields (public keys, ack codes, paths)
// that must cross the WebSocket boundary as text.
type HexBytes []byte

func (h HexBytes) String() string { return hex.EncodeToString(h) }

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}
