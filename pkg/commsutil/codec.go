package commsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// DecodeParams decodes method params. Missing or null params decode to an
// empty map; anything other than a JSON object is an error.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%s - params must be a JSON object", codecLogPrefix)
	}
	params := map[string]any{}
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, fmt.Errorf("%s - failed to decode params: %w", codecLogPrefix, err)
	}
	return params, nil
}
