package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON re-marshals v with object keys sorted and numbers left as
// their decoded representation, so that two structurally-equivalent
// payloads produce byte-identical output regardless of field order.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical json: unmarshal: %w", err)
	}
	return canonicalEncode(generic)
}

func canonicalEncode(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalEncode(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, e := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := canonicalEncode(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}

// ContentID derives a deterministic hex-encoded id from a canonical-JSON
// payload plus a salt tuple (the key-specific discriminators, e.g.
// (token, amount) for permits or (uniqueID) for pre-signatures). Equal
// payload+salt always yields the same id, which is the contract C7's
// stores rely on for resume-after-signing idempotency (spec.md §9).
func ContentID(payload any, salt ...string) (string, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(body)
	for _, s := range salt {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
