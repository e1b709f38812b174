package commsutil

import "testing"

func TestEncodeDecodePayload(t *testing.T) {
	type payload struct {
		Path string `json:"path"`
		N    int    `json:"n"`
	}

	data, err := EncodePayload(&payload{Path: "users/list", N: 3})
	if err != nil {
		t.Fatalf("commsutil:codec_test - encode failed: %v", err)
	}

	var decoded payload
	if err := DecodePayload(data, &decoded); err != nil {
		t.Fatalf("commsutil:codec_test - decode failed: %v", err)
	}
	if decoded.Path != "users/list" || decoded.N != 3 {
		t.Errorf("commsutil:codec_test - decoded = %+v", decoded)
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	var v map[string]any
	if err := DecodePayload([]byte(`{"broken`), &v); err == nil {
		t.Error("commsutil:codec_test - expected error for malformed JSON")
	}
}
