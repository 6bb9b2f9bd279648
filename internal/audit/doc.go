// Package audit records security-relevant gateway decisions.
//
// Audit entries are emitted through the gateway's structured logger with
// audit=true so they share the request correlation fields and can be routed
// by the log pipeline. Bearer tokens and other credentials are never part of
// an entry; metadata keys that look like credentials are redacted.
package audit
