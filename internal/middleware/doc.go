// Package middleware provides the HTTP middleware that wraps the admission
// pipeline: correlation IDs, request logging, panic recovery, request body
// limits and trusted-proxy client IP extraction.
package middleware
