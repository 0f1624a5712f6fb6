package router

import (
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/goerror"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

// HeaderIdempotencyKey carries the client supplied key for replay-safe writes.
const HeaderIdempotencyKey = "Idempotency-Key"

// maxBodyBytes caps request bodies decoded by DecodeBody.
const maxBodyBytes = 1 << 20

// Request wraps http.Request with helpers for inbound handlers.
type Request struct {
	// Request is the underlying http.Request.
	*http.Request
}

// GetParam reads a path parameter from the request context (as stored by httprouter).
func (r *Request) GetParam(key string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(key)
}

// GetQuery returns the trimmed query value for key.
func (r *Request) GetQuery(key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// IdempotencyKey returns the normalized Idempotency-Key header, or "".
func (r *Request) IdempotencyKey() string {
	return normalizeCID(r.Header.Get(HeaderIdempotencyKey))
}

// DecodeBody decodes a single JSON document from the body into dst. Unknown fields
// and trailing data are rejected.
func (r *Request) DecodeBody(dst any) error {
	if r == nil || r.Request == nil || r.Body == nil {
		return goerror.NewInvalidFormat()
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return goerror.NewInvalidFormat()
	}
	if len(body) > maxBodyBytes {
		return goerror.NewInvalidFormat("Request body too large")
	}

	if !jsoncodec.Valid(body) {
		return goerror.NewInvalidFormat("Invalid JSON body")
	}
	if err := jsoncodec.UnmarshalStrict(body, dst); err != nil {
		return goerror.NewInvalidFormat()
	}

	return nil
}
