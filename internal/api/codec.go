package api

import (
	"encoding/json"
)

// JSONCodec lets connect carry the plain Go messages in this package.
// It replaces connect's protobuf JSON codec under the same name.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
