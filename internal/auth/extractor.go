package auth

import (
	"net/http"
	"strings"
)

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

const bearerPrefix = "bearer "

// ExtractBearer returns the token of an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively; the token must
// be non-empty and contain no whitespace.
func ExtractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}

// HeaderFrom returns the Authorization header of r.
func HeaderFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get(HeaderAuthorization)
}
