package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"prizepick/auth"
	"prizepick/game"
	"prizepick/logger"
)

type contextKey string

const identityKey contextKey = "identity"

const adminKeyHeader = "X-Admin-Key"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Infof("%s %s %d %s %v", r.Method, r.URL.Path, rec.status,
			humanize.Bytes(uint64(rec.bytes)), time.Since(start))
	})
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware allows cross-origin calls from allowedOrigin only. With an
// empty origin no CORS headers are sent and browsers stay same-origin.
func CORSMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowedOrigin != "" && r.Header.Get("Origin") == allowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+adminKeyHeader)
				w.Header().Set("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func AdminMiddleware(gate *auth.AdminGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.Check(r.Header.Get(adminKeyHeader)) {
				writeJSON(w, http.StatusForbidden, errorResponse{
					Error:   "Forbidden",
					Message: "admin key required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PlayerAuthMiddleware requires a bearer session token and stores the
// authenticated identity in the request context.
func PlayerAuthMiddleware(authService *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authService.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetIdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*auth.Identity)
	return identity, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func statusFor(kind game.ErrorKind) int {
	switch kind {
	case game.KindInvalidConfiguration:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindInvalidState, game.KindNotYourTurn, game.KindAlreadyRevealed, game.KindCodeAlreadyUsed:
		return http.StatusConflict
	case game.KindInvalidCode, game.KindAuthentication:
		return http.StatusUnauthorized
	case game.KindPlayerNotInGame:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
