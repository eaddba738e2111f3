package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the back-office user and the agencies they may operate on
type Claims struct {
	UserID   string   `json:"sub_id"`
	Role     string   `json:"role"`
	Agencies []string `json:"agencies"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the token grants agencyID. Admins reach every agency.
func (c *Claims) CanAccess(agencyID string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return slices.Contains(c.Agencies, agencyID)
}

// Authenticator validates HS256 bearer tokens issued by the back-office
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for the given user and agencies
func (a *Authenticator) IssueToken(userID, role string, agencies []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Role:     role,
		Agencies: agencies,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

type claimsKey struct{}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// bearerToken reads the Authorization header, falling back to the access_token
// query parameter because browsers cannot set headers on websocket upgrades
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Middleware rejects requests without a valid bearer token
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, ErrMissingToken.Error())
			return
		}
		claims, err := a.Validate(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// authorizeAgency writes 403 and returns false when the caller may not touch agencyID
func authorizeAgency(w http.ResponseWriter, r *http.Request, agencyID string) bool {
	claims, ok := ClaimsFrom(r.Context())
	if !ok || !claims.CanAccess(agencyID) {
		respondError(w, http.StatusForbidden, "agency not permitted for this token")
		return false
	}
	return true
}
