// Package types defines table and field metadata, the access modes and typed
// values of a navigational cursor, the connection contract consumed by the
// cursor engine, and the standard errors shared across packages.
package types
