package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fedex-dca/control-tower/internal/shared/config"
	"github.com/fedex-dca/control-tower/internal/shared/types"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ServiceAuthHeader carries the shared secret identifying trusted source
// systems. It is a dedicated header: a bearer token presented on the ordinary
// Authorization header can never be reinterpreted as a SYSTEM identity,
// whatever its claims say.
const (
	ServiceAuthHeader = "X-Service-Auth"
	ServiceNameHeader = "X-Service-Name"
)

// Claims extends JWT claims with the session id. Authorization state (role,
// DCA, regions) is deliberately NOT read from the token: it is resolved live
// from the user directory so revocations take effect immediately.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id"`
}

// UserDirectory resolves the current authorization state for a user id.
type UserDirectory interface {
	ResolveActor(ctx context.Context, userID types.ID) (Actor, error)
}

// Resolver turns inbound requests into actors.
type Resolver struct {
	cfg       config.AuthConfig
	directory UserDirectory
}

// NewResolver creates an actor resolver.
func NewResolver(cfg config.AuthConfig, directory UserDirectory) *Resolver {
	return &Resolver{cfg: cfg, directory: directory}
}

// Middleware authenticates every request and stores the resolved actor in
// the request context. Requests with neither a valid service header nor a
// valid session are rejected.
func (rv *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Service identity path: dedicated header, constant-time compare.
		if token := r.Header.Get(ServiceAuthHeader); token != "" {
			if rv.cfg.ServiceAuthToken == "" ||
				subtle.ConstantTimeCompare([]byte(token), []byte(rv.cfg.ServiceAuthToken)) != 1 {
				writeAuthError(w, http.StatusUnauthorized, "invalid service credentials")
				return
			}
			serviceName := r.Header.Get(ServiceNameHeader)
			if serviceName == "" {
				serviceName = "unknown-service"
			}
			ctx := context.WithValue(r.Context(), actorContextKey, SystemActor(serviceName))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Human session path.
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeAuthError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(rv.cfg.JWTSecret), nil
		})
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || !token.Valid {
			writeAuthError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}

		userID, err := types.ParseID(claims.Subject)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid subject")
			return
		}

		actor, err := rv.directory.ResolveActor(r.Context(), userID)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "session no longer valid")
			return
		}

		ctx := context.WithValue(r.Context(), actorContextKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor extracts the actor from the request context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey).(Actor)
	return actor, ok
}

// WithActor returns a context carrying the actor, used by internal callers
// (jobs, adapters) that bypass HTTP middleware.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// RequireSystem restricts an endpoint to SYSTEM actors.
func RequireSystem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok || !actor.IsSystem() {
			writeAuthError(w, http.StatusForbidden, "service identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission restricts an endpoint to human actors whose role holds
// the permission.
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !actor.Can(perm) {
				writeAuthError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
