package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// SignatureHeader carries "sha256=<hex>" of the HMAC-SHA256 of the raw
// request body under the webhook secret.
const SignatureHeader = "X-IVR-Signature"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"from", r.RemoteAddr,
			"status", rec.status,
			"dur", time.Since(start),
		)
	})
}

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// signatureMiddleware rejects carrier requests whose signature does not
// match. An empty secret disables the check. A rejected webhook still gets
// the apology markup with status 200.
func signatureMiddleware(logger *slog.Logger, secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeApology(w)
			return
		}
		got := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if !hmac.Equal([]byte(got), []byte(Sign(secret, body))) {
			logger.Warn("webhook signature rejected", "path", r.URL.Path, "from", r.RemoteAddr)
			writeApology(w)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}
