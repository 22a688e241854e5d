package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Processor-Signature"

const maxSignedBody = 1 << 20

// VerifySignature rejects requests whose body is not signed with secret. The
// body is restored for the next handler.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "validation_error", "failed to read request body")
				return
			}

			sig := r.Header.Get(SignatureHeader)
			if sig == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid_signature", "signature missing")
				return
			}

			if !ValidSignature(payload, secret, sig) {
				zerolog.Ctx(r.Context()).Warn().Str("path", r.URL.Path).Msg("rejected notification with invalid signature")
				writeJSONError(w, http.StatusUnauthorized, "invalid_signature", "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(payload))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether header is the signature of payload.
func ValidSignature(payload []byte, secret, header string) bool {
	if secret == "" {
		return false
	}

	expected := Sign(payload, secret)

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(header))))
}
