// Package router holds the gateway route table.
//
// A route binds a path prefix and an optional method set to a logical
// downstream target, the upstream address serving it and the roles allowed
// to call it. The table is compiled once and mounted on a chi router.
package router
