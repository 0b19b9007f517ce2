package identity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MarshalCanonical renders v as deterministic JSON: object keys sorted
// lexicographically, numbers formatted with the shortest round-trip
// representation, and no whitespace — so the same logical document always
// produces the same byte stream regardless of map iteration order or
// platform.
func MarshalCanonical(v any) ([]byte, error) {
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if t {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		writeCanonicalString(sb, t)
	case float64:
		sb.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		sb.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32))
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case map[string]any:
		return writeCanonicalObject(sb, t)
	case []any:
		return writeCanonicalArray(sb, t)
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

func writeCanonicalObject(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeCanonicalString(sb, k)
		sb.WriteByte(':')
		if err := writeCanonical(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeCanonicalArray(sb *strings.Builder, arr []any) error {
	sb.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			sb.WriteByte(',')
		}
		if err := writeCanonical(sb, v); err != nil {
			return err
		}
	}
	sb.WriteByte(']')
	return nil
}

func writeCanonicalString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}
