package client

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// messageKeys are the top-level fields the API uses for a human-readable
// error, in order of preference.
var messageKeys = []string{"detail", "error", "message"}

// extractMessage pulls the server message out of an error body. Validation
// errors ({"field": ["msg"]}) yield "field: msg"; non-JSON bodies are
// returned as a sanitized excerpt.
func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return sanitizeBody(body)
	}

	for _, key := range messageKeys {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String {
			return v.String()
		}
	}

	root := gjson.ParseBytes(body)
	if root.IsArray() {
		if first := root.Get("0"); first.Type == gjson.String {
			return first.String()
		}
	}

	var msg string
	root.ForEach(func(key, value gjson.Result) bool {
		text := value
		if value.IsArray() {
			text = value.Get("0")
		}
		if text.Type != gjson.String {
			return true
		}
		if key.String() == "non_field_errors" {
			msg = text.String()
		} else {
			msg = key.String() + ": " + text.String()
		}
		return false
	})
	if msg != "" {
		return msg
	}

	return sanitizeBody(body)
}

// sanitizeBody truncates body to 256 bytes and replaces control characters
// and invalid UTF-8 so it is safe to print.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var b strings.Builder
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		switch {
		case r == utf8.RuneError && size <= 1:
			b.WriteByte('?')
		case r < 0x20 && r != '\n' && r != '\t':
			b.WriteByte('?')
		default:
			b.Write(body[:size])
		}
		body = body[size:]
	}
	return strings.TrimSpace(b.String())
}
