package ratelimit

// CallerKey builds the counter key of a caller. Unauthenticated callers
// have an empty principalID and are keyed by address alone.
func CallerKey(clientAddr, principalID string) string {
	return clientAddr + ":" + principalID
}
