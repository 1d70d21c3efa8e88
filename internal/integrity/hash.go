// Package integrity computes tamper-evident hashes over audit records.
//
// A record is reduced to canonical JSON (sorted keys at every level, nil
// values dropped, volatile fields removed, times in RFC3339Nano UTC) and
// hashed together with the hash of the preceding record in its chain:
//
//	integrity_hash = hex(SHA256(prev_hash_bytes || canonical_json))
//
// Editing a row changes its own hash; deleting or reordering rows breaks the
// previous_hash links of the rows after it.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GenesisHash is the previous hash of the first record in every chain.
const GenesisHash = ""

// VolatileFields are never part of the canonical form.
var VolatileFields = []string{"id", "timestamp", "created_at", "integrity_hash"}

// Canonicalize serializes fields deterministically. The volatile fields and
// any extra excluded keys are dropped from the top level.
func Canonicalize(fields map[string]any, exclude ...string) ([]byte, error) {
	skip := make(map[string]struct{}, len(VolatileFields)+len(exclude))
	for _, k := range VolatileFields {
		skip[k] = struct{}{}
	}
	for _, k := range exclude {
		skip[k] = struct{}{}
	}

	top := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := skip[k]; ok {
			continue
		}
		top[k] = v
	}

	norm, err := normalize(top)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the chained integrity hash of fields.
func Hash(fields map[string]any, prevHash string) (string, error) {
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	return HashCanonical(canonical, prevHash)
}

// HashCanonical hashes an already canonical payload onto prevHash.
func HashCanonical(canonical []byte, prevHash string) (string, error) {
	h := sha256.New()
	if prevHash != GenesisHash {
		pb, err := hex.DecodeString(prevHash)
		if err != nil {
			return "", fmt.Errorf("decode previous hash: %w", err)
		}
		h.Write(pb)
	}
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyHash recomputes the hash of fields and compares it with want in
// constant time.
func VerifyHash(fields map[string]any, prevHash, want string) (bool, error) {
	got, err := Hash(fields, prevHash)
	if err != nil {
		return false, err
	}
	return Equal(got, want), nil
}

// Equal compares two hex hashes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// normalize converts v into the generic JSON value space (map[string]any,
// []any, string, bool, json.Number) so that structs, typed maps and numbers
// of any Go type produce the same bytes as their decoded form.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	case string, bool, json.Number:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			if n == nil {
				continue
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	switch generic.(type) {
	case map[string]any, []any:
		return normalize(generic)
	}
	return generic, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case nil:
		buf.WriteString("null")
		return nil
	default:
		return writeScalar(buf, t)
	}
}

func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
