package vehicleapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/pkg/fn"
)

// envelopeKeys are the object members that may wrap the item array.
var envelopeKeys = []string{"Results", "results"}

// DecodeOptions turns a response body into options. The body is either a bare
// JSON array or an object whose Results (or results) member is an array. Each
// item is a string, a number, or an object whose first non-empty member named
// in keys is the label. Options whose value was already seen are dropped.
//
// Any other shape is an error; callers classify it as a malformed payload.
func DecodeOptions(body []byte, keys []string) ([]cascade.Option, error) {
	items, err := unwrap(body)
	if err != nil {
		return nil, err
	}
	opts := make([]cascade.Option, 0, len(items))
	for i, raw := range items {
		label, err := itemLabel(raw, keys)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		opts = append(opts, cascade.Option{Label: label, Value: label})
	}
	return fn.UniqueBy(opts, func(o cascade.Option) string { return o.Value }), nil
}

func unwrap(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, err
		}
		for _, k := range envelopeKeys {
			raw, ok := obj[k]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil || items == nil {
				return nil, fmt.Errorf("envelope member %s is not an array", k)
			}
			return items, nil
		}
		return nil, fmt.Errorf("object without %s array", strings.Join(envelopeKeys, "/"))
	default:
		return nil, fmt.Errorf("unexpected %q at start of body", body[0])
	}
}

func itemLabel(raw json.RawMessage, keys []string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if obj, ok := v.(map[string]any); ok {
		for _, k := range keys {
			if s := scalar(obj[k]); s != "" {
				return s, nil
			}
		}
		return "", fmt.Errorf("no label in any of %v", keys)
	}
	if s := scalar(v); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("unsupported item %s", raw)
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}
