package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cadenzahq/cadenza/pkg/composables"
)

const (
	headerUserID         = "X-User-Id"
	headerGlobalOverride = "X-Global-Override"
	headerRequestID      = "X-Request-Id"
)

// ProvidePool attaches the database pool to every request context so
// services can open transactions from it.
func ProvidePool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}

// RequestID propagates the inbound request id, or generates one.
func RequestID() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := composables.WithRequestID(r.Context(), r.Header.Get(headerRequestID))
			w.Header().Set(headerRequestID, composables.UseRequestID(ctx))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProvideActor reads the identity the upstream identity provider asserted
// for this request. Authentication itself happens upstream; requests
// without an asserted user simply carry no actor and fail at the first
// composables.UseActor call.
func ProvideActor() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(headerUserID)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			override, _ := strconv.ParseBool(r.Header.Get(headerGlobalOverride))
			ctx := composables.WithActor(r.Context(), composables.Actor{
				UserID:         userID,
				GlobalOverride: override,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs one line per request at debug level.
func RequestLogger(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"duration":   time.Since(start),
				"request_id": composables.UseRequestID(r.Context()),
			}).Debug("request handled")
		})
	}
}
