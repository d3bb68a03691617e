package gateway

import (
	"encoding/json"
	"strings"

	"dcarunner/src/connectors"
)

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "secret") ||
		strings.Contains(lower, "apikey") ||
		strings.Contains(lower, "api_key")
}

func redactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, inner := range t {
			if sensitiveKey(k) {
				t[k] = "[REDACTED]"
				continue
			}
			t[k] = redactValue(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = redactValue(inner)
		}
		return t
	default:
		return v
	}
}

// redactJSON masks every field whose key matches secret/apikey/api_key in a
// JSON payload. Non-JSON input falls back to the string redactor so nothing
// sensitive slips into an audit row either way.
func redactJSON(payload string) string {
	if payload == "" {
		return ""
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return connectors.Redact(payload)
	}
	out, err := json.Marshal(redactValue(decoded))
	if err != nil {
		return connectors.Redact(payload)
	}
	return string(out)
}

func marshalRedacted(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return redactJSON(string(raw))
}
