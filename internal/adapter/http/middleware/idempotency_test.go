package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/settlement/internal/adapter/repository/memory"
	"github.com/iho/settlement/internal/usecase"
)

type fakeIdempotencyStore struct {
	checkAndSetFn func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	updateFn      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

func (f *fakeIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if f.checkAndSetFn != nil {
		return f.checkAndSetFn(ctx, key, response, ttl)
	}
	return false, nil, nil
}

func (f *fakeIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, key, response, ttl)
	}
	return nil
}

func postWithKey(path, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, key)
	return req
}

func TestIdempotencyMiddleware_FailsClosedOnStoreErrors(t *testing.T) {
	var called bool
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return false, nil, context.DeadlineExceeded
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	rr := httptest.NewRecorder()
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, postWithKey("/api/v1/orders", "key-err"))

	assert.False(t, called, "handler should not be called when store errors")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestIdempotencyMiddleware_ReleasesKeyOnServerError(t *testing.T) {
	var ttl time.Duration
	store := &fakeIdempotencyStore{
		updateFn: func(ctx context.Context, key string, response []byte, t time.Duration) error {
			ttl = t
			return nil
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	rr := httptest.NewRecorder()
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})).ServeHTTP(rr, postWithKey("/api/v1/orders", "key-fail"))

	assert.Equal(t, releaseTTL, ttl)
}

func TestIdempotencyMiddleware_SkipsNonMutatingRequests(t *testing.T) {
	mw := NewIdempotencyMiddleware(&fakeIdempotencyStore{}, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
	rr := httptest.NewRecorder()

	called := false
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	assert.True(t, called)
}

func TestIdempotencyMiddleware_ReplaysStatusAndBody(t *testing.T) {
	store := memory.NewIdempotencyStore(usecase.SystemClock{})
	mw := NewIdempotencyMiddleware(store, time.Hour)

	calls := 0
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o1"}`))
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postWithKey("/api/v1/orders", "key-1"))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, postWithKey("/api/v1/orders", "key-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Replay"))
	assert.JSONEq(t, `{"id":"o1"}`, second.Body.String())
}

func TestIdempotencyMiddleware_ReplaysClientErrors(t *testing.T) {
	store := memory.NewIdempotencyStore(usecase.SystemClock{})
	mw := NewIdempotencyMiddleware(store, time.Hour)

	calls := 0
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"listing unavailable"}`))
	}))

	for range 2 {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, postWithKey("/api/v1/orders", "key-409"))
		assert.Equal(t, http.StatusConflict, rr.Code)
	}

	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddleware_ScopesKeysByPath(t *testing.T) {
	store := memory.NewIdempotencyStore(usecase.SystemClock{})
	mw := NewIdempotencyMiddleware(store, time.Hour)

	calls := 0
	h := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	h.ServeHTTP(httptest.NewRecorder(), postWithKey("/api/v1/orders", "shared"))
	h.ServeHTTP(httptest.NewRecorder(), postWithKey("/api/v1/users/u1/credits", "shared"))

	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_InProgressConflicts(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return true, []byte("processing"), nil
		},
	}
	mw := NewIdempotencyMiddleware(store, time.Hour)

	rr := httptest.NewRecorder()
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while the key is in progress")
	})).ServeHTTP(rr, postWithKey("/api/v1/orders", "busy"))

	assert.Equal(t, http.StatusConflict, rr.Code)
}
