package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

// AppClaims is the custom JWT claims structure issued by the identity
// provider. This subsystem only consumes the verified identity; it never
// issues or refreshes tokens.
type AppClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware verifies the handshake token (session-token cookie or
// Authorization bearer) and fills the request metadata with the verified
// user. A failed handshake is terminal for that connection attempt.
func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				// previous middlewares did not run; chain is miswired
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := extractToken(r)
			if tokenString == "" {
				logger.Warn("handshake without token", "ip", reqMeta.IP)
				http.Error(w, protocol.ErrAuthFailure.Error(), http.StatusUnauthorized)
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid handshake token", "ip", reqMeta.IP, slog.Any("error", err))
				http.Error(w, protocol.ErrAuthFailure.Error(), http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(*AppClaims)
			if !ok || claims.Subject == "" {
				logger.Warn("valid token missing 'sub' claim", "ip", reqMeta.IP)
				http.Error(w, protocol.ErrAuthFailure.Error(), http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = claims.Subject
			reqMeta.UserName = claims.Name
			reqMeta.Role = state.RoleMember
			if claims.Role == string(state.RoleAdmin) {
				reqMeta.Role = state.RoleAdmin
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie("session-token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
