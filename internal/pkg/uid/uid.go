// Package uid generates identifiers for correlation ids, idempotent requests and
// notification events.
package uid

// StringID generates string identifiers.
type StringID interface {
	Generate() string
}
