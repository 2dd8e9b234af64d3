package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims and NFC-normalizes a user or group name so that
// visually identical names resolve to the same entity.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// MarshalCanonical produces canonical JSON: object keys sorted by UTF-16
// code units, no HTML escaping, NFC-normalized strings, no floats, no null.
//
// Supported inputs are string, bool, int, int64, []any, []string and
// map[string]any. Used for persisted role maps and golden traces, where
// byte-stable output matters.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case []string:
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessUTF16(keys[i], keys[j]) })
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// lessUTF16 compares strings by UTF-16 code units.
func lessUTF16(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// EncodeRoleAssignments renders assignments as canonical JSON
// [{"id":..,"kind":..,"name":..,"role":..}] in input order.
func EncodeRoleAssignments(as []RoleAssignment) ([]byte, error) {
	arr := make([]any, len(as))
	for i, a := range as {
		arr[i] = map[string]any{
			"id":   a.Member.ID,
			"kind": int(a.Member.Kind),
			"name": a.Member.Name,
			"role": string(a.Role),
		}
	}
	return MarshalCanonical(arr)
}

// DecodeRoleAssignments parses the output of EncodeRoleAssignments.
func DecodeRoleAssignments(data []byte) ([]RoleAssignment, error) {
	var raw []struct {
		ID   string `json:"id"`
		Kind int    `json:"kind"`
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode role assignments: %w", err)
	}
	out := make([]RoleAssignment, len(raw))
	for i, r := range raw {
		out[i] = RoleAssignment{
			Member: Member{ID: r.ID, Kind: MemberKind(r.Kind), Name: r.Name, Enabled: true},
			Role:   Role(r.Role),
		}
	}
	return out, nil
}
