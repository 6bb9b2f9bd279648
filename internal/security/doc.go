// Package security sets the response hardening headers the gateway attaches
// to every response and, unconditionally, to every error envelope.
//
//	mw := security.NewHeadersMiddleware(security.DefaultConfig())
//	handler := mw.Handler()(next)
package security
