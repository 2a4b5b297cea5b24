package auth

import "strings"

const bearerPrefix = "Bearer "

// ExtractBearerToken pulls the token out of an HTTP Authorization header
// value. Returns false if the header is absent or malformed.
func ExtractBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}

	return token, true
}

// MatchesEntitySlug reports whether the pgwire connection's username
// matches the token's owning entity slug, case-insensitively (spec.md
// §4.7's additional pgwire check).
func MatchesEntitySlug(username, entitySlug string) bool {
	return strings.EqualFold(username, entitySlug)
}
