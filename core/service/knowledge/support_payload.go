package knowledge

import (
	"encoding/json"
	"strconv"
	"time"
)

// Payload values come back from JSON decoders or SQL rows, so numbers may be float64, int
// or json.Number and lists may be []any.

func payloadString(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func payloadStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return []string{}
	}
}

func payloadTime(p map[string]any, key string) *time.Time {
	switch v := p[key].(type) {
	case time.Time:
		t := v
		return &t
	case string:
		if v == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}
