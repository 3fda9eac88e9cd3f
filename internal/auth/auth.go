// Package auth identifies callers and decides whether they may perform an
// operation. Checks run before any store or lookup call.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/golang-jwt/jwt/v4"
)

const tokenIssuer = "disaster-coordination-service"

// Authenticator extracts the caller's identity from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

// Claims is the JWT payload. The user id is read from user_id, or from sub
// when user_id is absent.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing bearer token", domain.ErrUnauthenticated)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	id := domain.Identity{UserID: claims.UserID, Role: claims.Role}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.IsZero() {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	return id, nil
}

// NewToken issues an HS256 token for userID with the given role.
func NewToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// StaticAuthenticator treats every request as coming from one fixed identity.
// It is meant for local development when no token secret is configured.
type StaticAuthenticator struct {
	Identity domain.Identity
}

func (a StaticAuthenticator) Authenticate(*http.Request) (domain.Identity, error) {
	if a.Identity.IsZero() {
		return domain.Identity{}, errors.New("static authenticator has no identity")
	}
	return a.Identity, nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browser WebSocket clients must use.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
