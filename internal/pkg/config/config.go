package config

import (
	"io"
	"time"
)

// Config is the read-only view of runtime configuration used across the application.
//
// Keys are dot separated ("app.server.http.address"). Missing keys and values that cannot be
// converted yield the zero value of the requested type; use IsSet to tell them apart.
type Config interface {
	io.Closer

	// IsSet reports whether key has a value in any source (file, environment).
	IsSet(key string) bool

	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	GetInt64(key string) int64
	GetUint32(key string) uint32
	GetFloat64(key string) float64

	// GetSecond reads an integer value as a number of seconds.
	GetSecond(key string) time.Duration
	// GetMillisecond reads an integer value as a number of milliseconds.
	GetMillisecond(key string) time.Duration

	// GetArray reads a "a,b,c" value. Blank elements are dropped.
	GetArray(key string) []string
	// GetMap reads a "k1:v1,k2:v2" value.
	GetMap(key string) map[string]string
}
