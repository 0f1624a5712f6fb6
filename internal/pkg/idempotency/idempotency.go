// Package idempotency guards write operations behind a client supplied key so a
// retried request replays the first outcome instead of repeating the side effect.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

var (
	// ErrAlreadyInProgress is returned while another caller holds the key.
	ErrAlreadyInProgress = errors.New("idempotency: operation already in progress")
	// ErrKeyRequired is returned for an empty key.
	ErrKeyRequired = errors.New("idempotency: key is required")
	// ErrInvalidState is returned when the stored record cannot be understood.
	ErrInvalidState = errors.New("idempotency: invalid state")
)

// State is the lifecycle of one idempotency key.
type State string

const (
	StateNone       State = "none"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

func (s State) String() string {
	return string(s)
}

// Result is the outcome of Exec. Replayed is true when Value comes from an earlier
// call with the same key.
type Result struct {
	Value    []byte
	Replayed bool
}

// Store runs fn at most once per key within the state TTL.
type Store interface {
	Exec(ctx context.Context, key string, fn func(context.Context) ([]byte, error), opts ...Option) (Result, error)
}

type record struct {
	State  State  `json:"state"`
	Result []byte `json:"result,omitempty"`
}

// StateTracker is a Store backed by redis.
type StateTracker struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*StateTracker)(nil)

// New returns a StateTracker using client. Keys are stored under "idempotency:".
func New(client redis.UniversalClient) *StateTracker {
	return &StateTracker{client: client, prefix: "idempotency:"}
}

const (
	defaultLockDuration = time.Minute
	defaultStateTTL     = 24 * time.Hour
)

// Option tunes a single Exec call.
type Option func(*execOptions)

type execOptions struct {
	lockDuration time.Duration
	stateTTL     time.Duration
}

// WithLockDuration bounds how long an in-progress marker lives if the caller dies.
func WithLockDuration(d time.Duration) Option {
	return func(o *execOptions) { o.lockDuration = d }
}

// WithStateTTL sets how long a completed result can be replayed.
func WithStateTTL(d time.Duration) Option {
	return func(o *execOptions) { o.stateTTL = d }
}

// Acquire marks key in progress. It returns StateNone when the caller now owns the
// key, otherwise the state of the existing record and, when completed, its result.
func (s *StateTracker) Acquire(ctx context.Context, key string, lockDuration time.Duration) (State, []byte, error) {
	fk := s.prefix + key

	marker, err := jsoncodec.Marshal(record{State: StateInProgress})
	if err != nil {
		return StateNone, nil, err
	}

	acquired, err := s.client.SetNX(ctx, fk, marker, lockDuration).Result()
	if err != nil {
		return StateNone, nil, err
	}
	if acquired {
		return StateNone, nil, nil
	}

	raw, err := s.client.Get(ctx, fk).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get
		return s.Acquire(ctx, key, lockDuration)
	}
	if err != nil {
		return StateNone, nil, err
	}

	var rec record
	if err := jsoncodec.Unmarshal(raw, &rec); err != nil {
		return StateNone, nil, ErrInvalidState
	}

	switch rec.State {
	case StateInProgress, StateCompleted:
		return rec.State, rec.Result, nil
	default:
		return StateNone, nil, ErrInvalidState
	}
}

// MarkCompleted stores result under key for ttl.
func (s *StateTracker) MarkCompleted(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	raw, err := jsoncodec.Marshal(record{State: StateCompleted, Result: result})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, raw, ttl).Err()
}

// Release drops key so the operation can be retried.
func (s *StateTracker) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Exec runs fn once for key. A completed key replays its stored result, a key in
// progress yields ErrAlreadyInProgress and a failed fn releases the key.
func (s *StateTracker) Exec(ctx context.Context, key string, fn func(context.Context) ([]byte, error), opts ...Option) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyRequired
	}

	o := execOptions{lockDuration: defaultLockDuration, stateTTL: defaultStateTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lockDuration <= 0 {
		o.lockDuration = defaultLockDuration
	}
	if o.stateTTL <= 0 {
		o.stateTTL = defaultStateTTL
	}

	state, stored, err := s.Acquire(ctx, key, o.lockDuration)
	if err != nil {
		return Result{}, err
	}
	switch state {
	case StateInProgress:
		return Result{}, ErrAlreadyInProgress
	case StateCompleted:
		return Result{Value: stored, Replayed: true}, nil
	}

	value, err := fn(ctx)
	if err != nil {
		if relErr := s.Release(context.WithoutCancel(ctx), key); relErr != nil {
			return Result{}, errors.Join(err, relErr)
		}
		return Result{}, err
	}

	if err := s.MarkCompleted(context.WithoutCancel(ctx), key, value, o.stateTTL); err != nil {
		return Result{}, err
	}

	return Result{Value: value}, nil
}
