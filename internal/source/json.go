package source

import (
	"encoding/json"
	"fmt"
)

// canonicalJSON re-encodes a raw API object as indented JSON with the
// given keys dropped. Dropping keys is how adapters strip fields that
// churn on every fetch (timestamps, counters) so byte comparison stays
// meaningful. Go's map marshalling sorts keys, so output is stable.
func canonicalJSON(raw json.RawMessage, drop ...string) ([]byte, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	for _, key := range drop {
		delete(obj, key)
	}
	out, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encoding object: %w", err)
	}
	return append(out, '\n'), nil
}

// stringField extracts a top-level string field from a raw API object.
// Numeric ids are rendered without an exponent.
func stringField(raw json.RawMessage, key string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	val, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("object has no %q field", key)
	}
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(val, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("field %q is neither string nor number", key)
}
