package stacktrace

import (
	"slices"
	"testing"
)

func TestInternalPaths(t *testing.T) {
	// Arrange
	stack := []byte(`goroutine 7 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
github.com/shandysiswandi/pulsarbite/internal/pkg/messaging.handleRecovered.func1()
	/src/internal/pkg/messaging/recover.go:17 +0x7a
panic({0x1013e20?, 0x10fe4a0?})
	/usr/local/go/src/runtime/panic.go:785 +0x132
github.com/shandysiswandi/pulsarbite/internal/notification/inbound.(*MQHandler).Notify()
	/src/internal/notification/inbound/mq_handler.go:42 +0x1d
`)

	// Act
	got := InternalPaths(stack)

	// Assert
	want := []string{
		"internal/pkg/messaging/recover.go:17",
		"internal/notification/inbound/mq_handler.go:42",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("InternalPaths() = %v, want %v", got, want)
	}
}

func TestInternalPathsWithoutInternalFrames(t *testing.T) {
	got := InternalPaths([]byte("goroutine 1 [running]:\nmain.main()\n\t/src/main.go:10 +0x1\n"))
	if len(got) != 0 {
		t.Fatalf("expected no internal frames, got %v", got)
	}
}
