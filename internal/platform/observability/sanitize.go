package observability

import "unicode"

const maxLoggedString = 256

// stripUnsafe drops control characters (except whitespace) and caps the
// length so attacker-controlled values cannot inject into log lines.
func stripUnsafe(value string, limit int) string {
	if limit <= 0 {
		limit = maxLoggedString
	}

	runes := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		runes = append(runes, r)
	}
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

// SanitizeRoute bounds a route template before it reaches logs or spans.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripUnsafe(route, 180)
}

// SanitizeMethod bounds an HTTP method string.
func SanitizeMethod(method string) string {
	return stripUnsafe(method, 10)
}

// SanitizeUserID caps identifiers so logs carry at most an opaque id.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return stripUnsafe(uid, 64)
}
