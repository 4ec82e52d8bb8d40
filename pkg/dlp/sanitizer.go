package dlp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Sanitized is a clinical context that has passed through a Detector. Its zero value is empty and
// only this package can populate one, so holding a Sanitized proves redaction already happened.
type Sanitized struct {
	fields map[string]interface{}
}

// SanitizeContext drops PII keys and redacts every remaining value of raw.
func (d *Detector) SanitizeContext(raw map[string]interface{}) Sanitized {
	return Sanitized{fields: d.Sanitize(raw)}
}

// Fields returns a deep copy of the sanitized map.
func (s Sanitized) Fields() map[string]interface{} {
	out := make(map[string]interface{}, len(s.fields))
	for k, v := range s.fields {
		out[k] = deepCopy(v)
	}
	return out
}

// Text returns the value under key rendered as text, or "" when absent.
func (s Sanitized) Text(key string) string {
	v, ok := s.fields[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return strings.TrimSpace(str)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

func (s Sanitized) Len() int { return len(s.fields) }

func (s Sanitized) MarshalJSON() ([]byte, error) {
	if s.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.fields)
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, nested := range val {
			out[k] = deepCopy(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, nested := range val {
			out[i] = deepCopy(nested)
		}
		return out
	default:
		return val
	}
}
