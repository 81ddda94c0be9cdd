package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/metrics"
	pkgredis "github.com/danielreynoso/stockroom-backend/pkg/redis"
)

const (
	stateInProgress = "in_progress"
	stateCompleted  = "completed"
)

// Result is the response snapshot stored alongside a completed execution and
// returned verbatim on replay.
type Result struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Outcome reports whether the caller got a fresh execution or a replay.
type Outcome struct {
	Result   Result
	Replayed bool
}

type record struct {
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint"`
	StoredAt    time.Time `json:"storedAt"`
	Result      *Result   `json:"result,omitempty"`
}

// Store executes operations at most once per (scope, key). The first caller
// claims the key with SETNX and runs the operation; concurrent callers with
// the same key observe the in-progress claim and back off, later callers get
// the stored result replayed. A key reused with a different request
// fingerprint is rejected.
type Store struct {
	kv          pkgredis.KV
	ttl         time.Duration
	pendingTTL  time.Duration
	keyMaxBytes int
	metrics     *metrics.IdempotencyMetrics
	logg        *logger.Logger
}

type Options struct {
	TTL         time.Duration
	PendingTTL  time.Duration
	KeyMaxBytes int
	Metrics     *metrics.IdempotencyMetrics
	Logger      *logger.Logger
}

func NewStore(kv pkgredis.KV, opts Options) (*Store, error) {
	if kv == nil {
		return nil, errors.New("kv store is required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if opts.PendingTTL <= 0 {
		return nil, errors.New("pending ttl must be positive")
	}
	if opts.KeyMaxBytes <= 0 {
		opts.KeyMaxBytes = 255
	}
	return &Store{
		kv:          kv,
		ttl:         opts.TTL,
		pendingTTL:  opts.PendingTTL,
		keyMaxBytes: opts.KeyMaxBytes,
		metrics:     opts.Metrics,
		logg:        opts.Logger,
	}, nil
}

// Execute runs fn at most once for the given (scope, key). The fingerprint
// binds the key to the request contents so a reused key with a different
// payload is rejected instead of replayed.
func (s *Store) Execute(ctx context.Context, scope, key, fingerprint string, fn func(ctx context.Context) (Result, error)) (Outcome, error) {
	if err := s.validateKey(key); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(fingerprint) == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "request fingerprint is required")
	}
	if fn == nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeInternal, "idempotent operation is required")
	}

	storageKey := s.kv.IdempotencyKey(scope, key)

	claim, err := encodeRecord(record{
		State:       stateInProgress,
		Fingerprint: fingerprint,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency claim")
	}

	claimed, err := s.kv.SetNX(ctx, storageKey, claim, s.pendingTTL)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
	}

	if !claimed {
		return s.resolveExisting(ctx, storageKey, fingerprint)
	}

	result, err := fn(ctx)
	if err != nil {
		// Release the claim so the caller can retry with the same key.
		if delErr := s.kv.Del(ctx, storageKey); delErr != nil && s.logg != nil {
			s.logg.Error(ctx, "release idempotency claim", delErr)
		}
		return Outcome{}, err
	}

	done, encodeErr := encodeRecord(record{
		State:       stateCompleted,
		Fingerprint: fingerprint,
		StoredAt:    time.Now().UTC(),
		Result:      &result,
	})
	if encodeErr != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, encodeErr, "encode idempotency record")
	}
	if setErr := s.kv.Set(ctx, storageKey, done, s.ttl); setErr != nil {
		// The operation committed; surfacing an error here would make the
		// caller retry a completed mutation. Log and return the result.
		if s.logg != nil {
			s.logg.Error(ctx, "persist idempotency record", setErr)
		}
	}

	s.metrics.IncOutcome("executed")
	return Outcome{Result: result}, nil
}

// Forget removes a stored record so operators can unblock a client that lost
// its response and needs to re-run the request.
func (s *Store) Forget(ctx context.Context, scope, key string) error {
	if err := s.validateKey(key); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, s.kv.IdempotencyKey(scope, key)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete idempotency record")
	}
	return nil
}

func (s *Store) resolveExisting(ctx context.Context, storageKey, fingerprint string) (Outcome, error) {
	stored, err := s.kv.Get(ctx, storageKey)
	if err != nil {
		if errors.Is(err, pkgredis.ErrNotFound) {
			// Claim expired or was released between SETNX and GET.
			s.metrics.IncOutcome("in_progress")
			return Outcome{}, pkgerrors.New(pkgerrors.CodeIdempotencyInProgress, "idempotency record expired mid-flight, retry")
		}
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record")
	}

	var rec record
	if err := json.Unmarshal([]byte(stored), &rec); err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}

	if rec.Fingerprint != fingerprint {
		s.metrics.IncOutcome("conflict")
		return Outcome{}, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request")
	}

	switch rec.State {
	case stateInProgress:
		s.metrics.IncOutcome("in_progress")
		return Outcome{}, pkgerrors.New(pkgerrors.CodeIdempotencyInProgress, "request with this idempotency key is still in progress")
	case stateCompleted:
		if rec.Result == nil {
			return Outcome{}, pkgerrors.New(pkgerrors.CodeDependency, "idempotency record missing result")
		}
		s.metrics.IncOutcome("replayed")
		return Outcome{Result: *rec.Result, Replayed: true}, nil
	default:
		return Outcome{}, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("unknown idempotency state %q", rec.State))
	}
}

func (s *Store) validateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	if len(trimmed) > s.keyMaxBytes {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("idempotency key exceeds %d bytes", s.keyMaxBytes))
	}
	return nil
}

func encodeRecord(rec record) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
