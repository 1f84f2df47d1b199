package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey int

const (
	ctxKeyRequestID contextKey = iota
	ctxKeyLogger
)

const headerTerminalID = "X-Terminal-ID"

func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// logFor returns the context-scoped logger, falling back to the default logger
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// loggerMiddleware stores a per-request logger carrying the request and terminal ids
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := slog.Default().With("rid", getRequestID(r.Context()))
		if term := r.Header.Get(headerTerminalID); term != "" {
			l = l.With("terminal", term)
		}
		ctx := context.WithValue(r.Context(), ctxKeyLogger, l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RecordRequest()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)
			switch {
			case sc.code >= 500:
				m.RecordError()
			case sc.code >= 400:
				m.RecordClientError()
			}
		})
	}
}

// recoveryMiddleware turns a handler panic into a 500
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		logFor(r.Context()).Info("req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.code,
			"dur", time.Since(start).String(),
		)
	})
}

// requireAuth checks the Bearer key against the configured keys. With no
// keys configured every request is allowed.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.APIKeys) == 0 {
			handler(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
			return
		}
		key, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid authorization format")
			return
		}
		for _, k := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
				handler(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid api key")
	}
}

func maxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order (first applied is outermost)
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
