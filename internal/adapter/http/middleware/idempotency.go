package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/settlement/internal/usecase"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency keys.
	IdempotencyKeyHeader = "Idempotency-Key"
	// releaseTTL lets a failed request's key lapse almost at once so the
	// client can retry it.
	releaseTTL = time.Millisecond
)

// storedResponse is what a completed request leaves behind for replays.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// IdempotencyMiddleware replays the stored response of a POST or PUT carrying
// a previously seen Idempotency-Key. Keys are scoped by method and path.
type IdempotencyMiddleware struct {
	store usecase.IdempotencyStore
	ttl   time.Duration
}

// NewIdempotencyMiddleware creates a new IdempotencyMiddleware.
func NewIdempotencyMiddleware(store usecase.IdempotencyStore, ttl time.Duration) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyMiddleware{store: store, ttl: ttl}
}

// Wrap wraps an http.Handler with idempotency checking.
func (m *IdempotencyMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only apply to mutating requests
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = r.Method + " " + r.URL.Path + " " + key

		exists, cached, err := m.store.CheckAndSet(r.Context(), key, nil, m.ttl)
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("idempotency check failed")
			writeJSONError(w, http.StatusInternalServerError, "internal_error", "idempotency check failed")
			return
		}

		if exists {
			var stored storedResponse
			if len(cached) == 0 || json.Unmarshal(cached, &stored) != nil || stored.Status == 0 {
				// Still running, or the key lapsed between the two store calls.
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusConflict, "conflict", "request with this idempotency key is in progress")
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replay", "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		// Capture response
		recorder := &responseRecorder{
			ResponseWriter: w,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		// Server errors are not final; let the key lapse so a retry runs again.
		if recorder.statusCode >= http.StatusInternalServerError {
			m.update(r, key, nil, releaseTTL)
			return
		}

		stored := storedResponse{Status: recorder.statusCode}
		if json.Valid(recorder.body.Bytes()) {
			stored.Body = recorder.body.Bytes()
		}

		payload, err := json.Marshal(stored)
		if err != nil {
			m.update(r, key, nil, releaseTTL)
			return
		}

		m.update(r, key, payload, m.ttl)
	})
}

func (m *IdempotencyMiddleware) update(r *http.Request, key string, payload []byte, ttl time.Duration) {
	if payload == nil {
		payload = []byte{}
	}
	if err := m.store.Update(r.Context(), key, payload, ttl); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to store idempotent response")
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
