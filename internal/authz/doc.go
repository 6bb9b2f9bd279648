// Package authz decides whether a principal's role admits it to a route.
//
// Roles form a hierarchy in which a parent role includes every permission
// of its descendants (ADMIN ⊇ PROPERTY_MANAGER ⊇ AGENT ⊇ RENTER by default).
// The reflexive transitive closure is computed once when the Hierarchy is
// built; authorization is then a map lookup and is safe for concurrent use.
package authz
