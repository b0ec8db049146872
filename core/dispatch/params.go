package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidOptions is returned when the caller-supplied options are not a JSON object.
var ErrInvalidOptions = errors.New("options must be a JSON object")

// ParseOptions turns the caller's options string into worker params.
// Empty input, "{}" and "null" all yield an empty map.
func ParseOptions(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]interface{}{}, nil
	}

	var params map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	// 对象之后必须直接结束，`{}]`、`{"a":1} x` 都拒绝
	if err := dec.Decode(new(json.RawMessage)); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after object", ErrInvalidOptions)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

// OptionsFromJSON accepts options sent inside a JSON body either as an encoded
// string ("{\"start\":1}") or as an inline object.
func OptionsFromJSON(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidOptions, err)
		}
		return s, nil
	case '{':
		return string(raw), nil
	default:
		return "", ErrInvalidOptions
	}
}
