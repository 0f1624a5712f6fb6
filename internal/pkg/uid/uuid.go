package uid

import "github.com/google/uuid"

// UUID generates time-ordered RFC 9562 version 7 UUID strings.
type UUID struct{}

var _ StringID = (*UUID)(nil)

// NewUUID returns a UUID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// Generate returns a new UUID string, falling back to version 4 when the v7
// source fails.
func (u *UUID) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
