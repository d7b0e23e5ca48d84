package rediscache

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Codec defines the interface for cached payload serialization.
type Codec interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONCodec is the default implementation of Codec using JSON.
// It uses the standard library for encoding and sonic for decoding,
// since reads dominate the cache workload.
type JSONCodec struct{}

// Encode serializes a value to JSON using the standard library.
func (*JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONCodec) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}
