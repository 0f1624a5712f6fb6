package idempotency

import (
	"context"
	"errors"
	"testing"
)

func TestStateTracker_ExecKeyRequired(t *testing.T) {
	// Arrange
	store := New(nil)
	called := false

	// Act
	_, err := store.Exec(context.Background(), "", func(context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})

	// Assert
	if !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("Exec() error = %v, want ErrKeyRequired", err)
	}
	if called {
		t.Fatalf("fn must not run without a key")
	}
}

func TestState_String(t *testing.T) {
	if got := StateCompleted.String(); got != "completed" {
		t.Fatalf("String() = %q, want completed", got)
	}
}
