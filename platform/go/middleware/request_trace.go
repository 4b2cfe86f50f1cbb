package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/atlas-itam/atlas/platform/go/auth"
	platformlogging "github.com/atlas-itam/atlas/platform/go/logging"
	"github.com/atlas-itam/atlas/platform/go/requesttrace"
)

// RequestTrace stores the request AuditInfo on the context and tags the request logger with the actor.
// It must run after the JWT middleware so verified credentials are visible.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())

		audit := requesttrace.Anonymous(requestID)
		creds, ok := platformauth.UserFromContext(r.Context())
		if ok && creds != nil {
			var err error
			audit, err = requesttrace.FromCredentials(creds, requestID)
			if err != nil {
				if logger != nil {
					logger.Error("build audit info from credentials", zap.Error(err))
				}
				writeContractProblem(w, http.StatusUnauthorized, "credentials do not identify a user")
				return
			}
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		if logger != nil {
			fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
			if audit.UserID != nil && *audit.UserID != "" {
				fields = append(fields, zap.String("user_id", *audit.UserID), zap.Bool("is_admin", creds.IsAdmin))
			}
			ctx = platformlogging.WithLogger(ctx, logger.With(fields...))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
