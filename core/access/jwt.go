package access

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/distill-api/distill/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret the bearer tokens are signed with. This is mandatory.
	Secret []byte
}

type claims struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler which parses the authorization
// bearer token and adds the contained identity and roles as access object to the
// request context.
//
// Requests without a bearer token pass through without access object; an
// invalid or expired token is rejected with 401. Parsed tokens are kept in an
// in-process cache.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware: Secret is missing")
	}

	cache := NewCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) != nil { // we already have an access object
				h.ServeHTTP(w, r)
				return
			}

			bearer := r.Header.Get("Authorization")
			if len(bearer) < 8 || strings.ToLower(bearer[:7]) != "bearer " {
				// anonymous request
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearer[7:]

			acc := cache.Read(tokenString)
			if acc == nil {
				c := claims{}
				token, err := jwt.ParseWithClaims(tokenString, &c,
					func(t *jwt.Token) (interface{}, error) { return jmb.Secret, nil },
					jwt.WithValidMethods([]string{"HS256"}))
				if err != nil || !token.Valid {
					logger.FromContext(r.Context()).WithError(err).Info("invalid bearer token")
					http.Error(w, "invalid bearer token", http.StatusUnauthorized)
					return
				}
				acc = &Access{Identity: c.Identity, Roles: c.Roles}
				cache.Write(tokenString, acc)
			}

			ctx := acc.ContextWithAccess(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, acc.Identity)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewToken creates a signed bearer token for the given identity and roles,
// for use in tests and provisioning tools.
func NewToken(secret []byte, identity string, roles ...string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Identity: identity,
		Roles:    roles,
	})
	return token.SignedString(secret)
}
