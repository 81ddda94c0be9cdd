package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	pkgredis "github.com/danielreynoso/stockroom-backend/pkg/redis"
)

type memoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string]string{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNotFound
	}
	return value, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = toString(value)
	return nil
}

func (m *memoryKV) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}

func (m *memoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryKV) IdempotencyKey(scope, id string) string {
	return "sr:idempotency:" + scope + ":" + id
}

func (m *memoryKV) AvailabilityKey(parts ...string) string {
	return "sr:availability:" + strings.Join(parts, ":")
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func newTestStore(t *testing.T, kv pkgredis.KV) *Store {
	t.Helper()
	store, err := NewStore(kv, Options{
		TTL:         time.Hour,
		PendingTTL:  time.Minute,
		KeyMaxBytes: 64,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func okResult(body string) Result {
	return Result{Status: 200, Body: json.RawMessage(body)}
}

func TestExecuteRunsOnceAndReplays(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()
	fingerprint := Fingerprint("POST", "/stock/adjust", []byte(`{"delta":5}`))

	calls := 0
	fn := func(context.Context) (Result, error) {
		calls++
		return okResult(`{"onHand":5}`), nil
	}

	first, err := store.Execute(ctx, "stock|adjust", "key-1", fingerprint, fn)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if first.Replayed {
		t.Fatal("first execution must not be a replay")
	}

	second, err := store.Execute(ctx, "stock|adjust", "key-1", fingerprint, fn)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if !second.Replayed {
		t.Fatal("second execution must replay")
	}
	if string(second.Result.Body) != `{"onHand":5}` {
		t.Fatalf("unexpected replayed body %s", second.Result.Body)
	}
	if calls != 1 {
		t.Fatalf("operation ran %d times, want 1", calls)
	}
}

func TestExecuteRejectsFingerprintMismatch(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()

	if _, err := store.Execute(ctx, "stock|adjust", "key-1",
		Fingerprint("POST", "/stock/adjust", []byte(`{"delta":5}`)),
		func(context.Context) (Result, error) { return okResult(`{}`), nil },
	); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	_, err := store.Execute(ctx, "stock|adjust", "key-1",
		Fingerprint("POST", "/stock/adjust", []byte(`{"delta":9}`)),
		func(context.Context) (Result, error) { return okResult(`{}`), nil },
	)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeIdempotency {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestExecuteReleasesKeyOnFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()
	fingerprint := Fingerprint("POST", "/stock/reserve", []byte(`{"qty":3}`))

	boom := errors.New("insufficient stock")
	if _, err := store.Execute(ctx, "stock|reserve", "key-2", fingerprint,
		func(context.Context) (Result, error) { return Result{}, boom },
	); !errors.Is(err, boom) {
		t.Fatalf("expected operation error, got %v", err)
	}

	// Failed executions must not consume the key.
	outcome, err := store.Execute(ctx, "stock|reserve", "key-2", fingerprint,
		func(context.Context) (Result, error) { return okResult(`{"reserved":3}`), nil },
	)
	if err != nil {
		t.Fatalf("retry execute: %v", err)
	}
	if outcome.Replayed {
		t.Fatal("retry after failure must run fresh")
	}
}

func TestExecuteConcurrentLoserSeesInProgress(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()
	fingerprint := Fingerprint("POST", "/transfers", []byte(`{"code":"TR-9"}`))

	started := make(chan struct{})
	release := make(chan struct{})
	var winnerErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, winnerErr = store.Execute(ctx, "transfers|create", "key-3", fingerprint,
			func(context.Context) (Result, error) {
				close(started)
				<-release
				return okResult(`{"id":"t1"}`), nil
			},
		)
	}()

	<-started
	_, err := store.Execute(ctx, "transfers|create", "key-3", fingerprint,
		func(context.Context) (Result, error) { return okResult(`{}`), nil },
	)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeIdempotencyInProgress {
		t.Fatalf("expected in-progress conflict, got %v", err)
	}

	close(release)
	wg.Wait()
	if winnerErr != nil {
		t.Fatalf("winner failed: %v", winnerErr)
	}

	// After the winner finishes, the same key replays its result.
	outcome, err := store.Execute(ctx, "transfers|create", "key-3", fingerprint,
		func(context.Context) (Result, error) { return okResult(`{}`), nil },
	)
	if err != nil {
		t.Fatalf("replay execute: %v", err)
	}
	if !outcome.Replayed || string(outcome.Result.Body) != `{"id":"t1"}` {
		t.Fatalf("unexpected replay outcome: %+v", outcome)
	}
}

func TestExecuteValidatesKey(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()
	fn := func(context.Context) (Result, error) { return okResult(`{}`), nil }

	if _, err := store.Execute(ctx, "s", "", "fp", fn); pkgerrors.As(err) == nil ||
		pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for empty key, got %v", err)
	}

	long := strings.Repeat("k", 65)
	if _, err := store.Execute(ctx, "s", long, "fp", fn); pkgerrors.As(err) == nil ||
		pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for oversized key, got %v", err)
	}
}

func TestForgetAllowsReRun(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, newMemoryKV())
	ctx := context.Background()
	fingerprint := Fingerprint("POST", "/stock/adjust", []byte(`{"delta":1}`))

	calls := 0
	fn := func(context.Context) (Result, error) {
		calls++
		return okResult(`{}`), nil
	}

	if _, err := store.Execute(ctx, "stock|adjust", "key-4", fingerprint, fn); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := store.Forget(ctx, "stock|adjust", "key-4"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	outcome, err := store.Execute(ctx, "stock|adjust", "key-4", fingerprint, fn)
	if err != nil {
		t.Fatalf("re-run execute: %v", err)
	}
	if outcome.Replayed || calls != 2 {
		t.Fatalf("expected fresh run after forget (calls=%d, replayed=%v)", calls, outcome.Replayed)
	}
}
