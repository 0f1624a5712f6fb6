package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/stacktrace"
)

// maxPanicStack caps the raw stack logged when no frame of this module is on it.
const maxPanicStack = 4 << 10

// handleRecovered runs fn and turns a panic into an ErrHandlerPanic error. The stack is
// logged as the list of module frames, or as a truncated raw dump when there are none.
func handleRecovered(ctx context.Context, topic, messageID string, fn func() error) (err error) {
	defer func() {
		rvr := recover()
		if rvr == nil {
			return
		}

		attrs := []any{"topic", topic, "message_id", messageID, "panic", rvr}
		raw := debug.Stack()
		if paths := stacktrace.InternalPaths(raw); len(paths) > 0 {
			attrs = append(attrs, "stack", paths)
		} else {
			attrs = append(attrs, "stack", string(raw[:min(len(raw), maxPanicStack)]))
		}
		slog.ErrorContext(ctx, "panic in message handler", attrs...)

		err = fmt.Errorf("%w: %v", ErrHandlerPanic, rvr)
	}()

	return fn()
}
