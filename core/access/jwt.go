package access

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/lowkey-tech/basis/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC secret shared with the token issuer
	Secret []byte
}

type principalClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// MustNewJwtMiddleware returns a middleware handler to validate JWT
// bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header. A valid token
// carries the principal's numeric identity as subject and its role as a
// "role" claim; the principal is stored in the request context. Requests
// without a token pass through unauthenticated, the decision point
// rejects them later if the route requires a principal. Token issuance
// is not handled here.
func MustNewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware: secret is missing")
	}

	keyLookup := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
				tokenString = bearer[7:]
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := principalClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyLookup)
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			id, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				http.Error(w, "invalid token subject", http.StatusUnauthorized)
				return
			}

			principal := &Principal{ID: id, Role: claims.Role}
			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, claims.Subject)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
