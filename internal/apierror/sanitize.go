package apierror

import "regexp"

const redacted = "[REDACTED]"

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	secretPattern = regexp.MustCompile(
		`(?i)\b(password|passwd|secret|client_secret|token|access_token|refresh_token|api[_-]?key)\s*([=:])\s*("[^"]*"|[^\s&,;]+)`,
	)
)

// Sanitize masks credentials that may appear in an error message: bearer
// tokens, JWT-shaped strings and key=value pairs naming a secret.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer "+redacted)
	s = jwtPattern.ReplaceAllString(s, redacted)
	s = secretPattern.ReplaceAllString(s, "${1}${2}"+redacted)
	return s
}
