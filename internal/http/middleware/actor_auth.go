package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/homecare-visits/internal/actor"
)

// ActorClaims are the JWT claims identifying the caller. Subject carries the numeric id.
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ActorJWT validates an HMAC-signed JWT and stores the resulting actor in the request context.
// The token is read from the Authorization header, or from the access_token query
// parameter for websocket upgrades.
func ActorJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := ActorClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			a, ok := claimsToActor(claims)
			if !ok {
				http.Error(w, "invalid actor claims", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
		})
	}
}

// RequireRole rejects requests whose actor is not one of roles.
func RequireRole(roles ...actor.Role) func(http.Handler) http.Handler {
	allowed := make(map[actor.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := actor.FromContext(r.Context())
			if !ok {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[a.Role]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func claimsToActor(claims ActorClaims) (actor.Actor, bool) {
	var id int64
	if claims.Subject != "" {
		parsed, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return actor.Actor{}, false
		}
		id = parsed
	}
	a := actor.Actor{Role: actor.Role(strings.ToLower(claims.Role)), ID: id}
	return a, a.Valid()
}
