package commsutil

import "encoding/json"

// EncodePayload marshals a dispatch request, envelope, or event for the wire.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload unmarshals wire bytes into v.
func DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
