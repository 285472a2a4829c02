// Package jsonutil produces the deterministic JSON used to hash audit
// records and catalog rows.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// CanonicalMarshal encodes v with object keys in byte order and no
// insignificant whitespace. Numbers are copied from the first encoding
// verbatim, so uint64 ids survive beyond 2^53.
func CanonicalMarshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return appendCanonical(make([]byte, 0, len(raw)), tree)
}

func appendCanonical(dst []byte, v any) ([]byte, error) {
	var err error
	switch node := v.(type) {
	case map[string]any:
		dst = append(dst, '{')
		for i, k := range slices.Sorted(maps.Keys(node)) {
			if i > 0 {
				dst = append(dst, ',')
			}
			if dst, err = appendLeaf(dst, k); err != nil {
				return nil, err
			}
			dst = append(dst, ':')
			if dst, err = appendCanonical(dst, node[k]); err != nil {
				return nil, err
			}
		}
		return append(dst, '}'), nil
	case []any:
		dst = append(dst, '[')
		for i, elem := range node {
			if i > 0 {
				dst = append(dst, ',')
			}
			if dst, err = appendCanonical(dst, elem); err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	case json.Number:
		return append(dst, node.String()...), nil
	default:
		return appendLeaf(dst, node)
	}
}

// appendLeaf encodes strings, bools and null with the standard escaping.
func appendLeaf(dst []byte, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical leaf: %w", err)
	}
	return append(dst, b...), nil
}
