// Package auth verifies bearer tokens and derives the request Principal.
//
// Tokens are verified with an HMAC shared secret, a remote JWKS key set
// refreshed in the background, or both. Verification failures never carry
// the token itself; callers receive an *apierror.Error with one of the
// reasons missing_or_malformed_header, invalid_token or invalid_claims.
package auth
