package auth

import (
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/crewline/crewline/internal/token"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/clog"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Middleware authenticates requests with either the deployment API key or a
// user-scoped API token. Token lookups are cached so the storage backend is
// not hit on every request.
type Middleware struct {
	users  user.Repository
	tokens token.Repository
	apiKey string
	cache  *gocache.Cache
}

func NewMiddleware(users user.Repository, tokens token.Repository, apiKey string) *Middleware {
	return &Middleware{
		users:  users,
		tokens: tokens,
		apiKey: apiKey,
		cache:  gocache.New(cacheTTL, cacheCleanup),
	}
}

// systemUser is the synthetic identity behind the deployment API key. It is
// used for bootstrap operations such as creating the first real users.
var systemUser = &user.User{ID: "system", Name: "system", Role: user.RoleAdmin}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		credential := bearerToken(r)
		if credential == "" {
			cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "missing credentials", nil)
			return
		}
		if m.apiKey != "" && credential == m.apiKey {
			clog.AddAttribute(ctx, "auth_user", systemUser.ID)
			next.ServeHTTP(w, r.WithContext(user.ContextWith(ctx, systemUser)))
			return
		}
		if !token.IsSecret(credential) {
			cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "invalid credentials", nil)
			return
		}

		hash := token.Hash(credential)
		if cached, ok := m.cache.Get(hash); ok {
			u := cached.(*user.User)
			clog.AddAttribute(ctx, "auth_user", u.ID)
			next.ServeHTTP(w, r.WithContext(user.ContextWith(ctx, u)))
			return
		}

		t, err := m.tokens.GetByHash(ctx, hash)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "invalid credentials", err)
			return
		}
		u, err := m.users.Get(ctx, t.UserID)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "invalid credentials", err)
			return
		}
		m.cache.Set(hash, u, gocache.DefaultExpiration)

		// The cache bounds this to once per TTL per token.
		now := time.Now()
		t.LastUsedAt = &now
		if err := m.tokens.Update(ctx, t); err != nil {
			clog.AddAttribute(ctx, "token_touch_error", err.Error())
		}

		clog.AddAttribute(ctx, "auth_user", u.ID)
		next.ServeHTTP(w, r.WithContext(user.ContextWith(ctx, u)))
	})
}

// RequireAdmin wraps a handler so only admin callers reach it.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		u, ok := user.FromContext(ctx)
		if !ok {
			cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
			return
		}
		if u.Role != user.RoleAdmin {
			cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Invalidate drops a token from the cache, used when a token is revoked.
func (m *Middleware) Invalidate(hash string) {
	m.cache.Delete(hash)
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for EventSource clients that cannot set
// headers.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
