package provider

import "fmt"

// extractSessionID pulls the OTP session identifier out of a provider
// response. Different provider versions nest it differently, so the lookup
// tries each known location in order and returns the first hit.
func extractSessionID(data map[string]interface{}) string {
	if info, ok := data["session_info"].(map[string]interface{}); ok {
		if id := stringValue(info["session_id"]); id != "" {
			return id
		}
	}
	if id := stringValue(data["session_id"]); id != "" {
		return id
	}
	return stringValue(data["sessionId"])
}

// extractStatus pulls the status field out of a provider response, checking
// the top level first, then the response and data sub-objects.
func extractStatus(data map[string]interface{}) string {
	if v, ok := data["status"]; ok {
		return stringValue(v)
	}
	if resp, ok := data["response"].(map[string]interface{}); ok {
		if v, ok := resp["status"]; ok {
			return stringValue(v)
		}
	}
	if d, ok := data["data"].(map[string]interface{}); ok {
		if v, ok := d["status"]; ok {
			return stringValue(v)
		}
	}
	return ""
}

// extractErrorMessage returns the provider's error message, or fallback
// when the response carries none.
func extractErrorMessage(data map[string]interface{}, fallback string) string {
	if msg := stringValue(data["errorMessage"]); msg != "" {
		return msg
	}
	return fallback
}

// stringValue renders a decoded JSON value as a string. Numeric statuses
// arrive as float64 from encoding/json and must compare equal to their
// string forms.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
