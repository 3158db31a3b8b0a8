package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"garrison/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

type ContextKey string

const (
	PrincipalContextKey ContextKey = "principal"
)

// Authorizer decides whether a request may operate servers. The returned
// principal is empty when the caller could not be identified at all.
type Authorizer interface {
	Authorize(r *http.Request) (domain.Principal, bool)
}

// AllowAll is used when authentication is disabled for local development.
type AllowAll struct{}

func (AllowAll) Authorize(r *http.Request) (domain.Principal, bool) {
	return domain.Principal{ID: "local", Role: domain.RoleAdmin}, true
}

// JWTAuthorizer accepts HMAC signed bearer tokens carrying user_id and role
// claims.
type JWTAuthorizer struct {
	Secret []byte
}

func (a JWTAuthorizer) Authorize(r *http.Request) (domain.Principal, bool) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return domain.Principal{}, false
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return domain.Principal{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, false
	}
	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	if userID == "" {
		return domain.Principal{}, false
	}

	p := domain.Principal{ID: userID, Role: role}
	return p, p.CanManageServers()
}

// bearerToken reads the Authorization header, then the token query
// parameter used by websocket clients, then the token cookie.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

// IssueToken signs a token accepted by JWTAuthorizer.
func IssueToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(domain.Principal)
	return p, ok
}

func (api *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := api.Auth
		if auth == nil {
			auth = AllowAll{}
		}
		p, ok := auth.Authorize(r)
		if !ok {
			status := http.StatusForbidden
			if p.ID == "" {
				status = http.StatusUnauthorized
			}
			writeJSON(w, status, errorBody{Error: errorPayload{Kind: "unauthorized", Message: http.StatusText(status)}})
			return
		}
		ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", api.allowedOrigin(r))
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (api *Server) allowedOrigin(r *http.Request) string {
	if len(api.AllowedOrigins) == 0 {
		return "*"
	}
	origin := r.Header.Get("Origin")
	for _, o := range api.AllowedOrigins {
		if o == "*" || o == origin {
			return origin
		}
	}
	return api.AllowedOrigins[0]
}
