package marketplace

import (
	"encoding/json"
	"net/http"
)

func jsonUnmarshal(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

// httpFallbackCode maps a transport status to a classification code when the
// response body carries none.
func httpFallbackCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case status == http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case status == http.StatusForbidden:
		return "ACCESS_DENIED"
	case status == http.StatusNotFound:
		return "NOT_FOUND"
	case status >= 500:
		return "SERVICE_UNAVAILABLE"
	case status >= 400:
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
