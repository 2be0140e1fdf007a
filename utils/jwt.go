package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	redis "github.com/redis/go-redis/v9"
)

type contextKey string

const UserIDKey = contextKey("userID")
const UserRoleKey = contextKey("userRole")
const RequestIDKey = contextKey("requestID")

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// BlacklistKeyPrefix prefixes revoked token ids in Redis.
const BlacklistKeyPrefix = "jwt:blacklist:"

// TokenVerifier checks HS256 access tokens issued by the account service.
// This service never issues tokens itself.
type TokenVerifier struct {
	secret    []byte
	audience  string
	issuer    string
	blacklist redis.UniversalClient
}

// NewTokenVerifier builds a verifier. blacklist is optional; when set,
// tokens whose jti is stored under BlacklistKeyPrefix are rejected.
func NewTokenVerifier(secret, audience, issuer string, blacklist redis.UniversalClient) *TokenVerifier {
	return &TokenVerifier{
		secret:    []byte(secret),
		audience:  audience,
		issuer:    issuer,
		blacklist: blacklist,
	}
}

// Verify validates signature and registered claims and returns the claims.
func (v *TokenVerifier) Verify(ctx context.Context, tokenStr string) (jwt.MapClaims, error) {
	if len(v.secret) == 0 {
		return nil, errors.New("JWT_SECRET is not set")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	// Redis outages never fail authentication.
	if jti, ok := claims["jti"].(string); ok && jti != "" && v.blacklist != nil {
		if res, err := v.blacklist.Get(ctx, BlacklistKeyPrefix+jti).Result(); err == nil && res == "1" {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// UserIDFromClaims reads the numeric "id" claim.
func UserIDFromClaims(claims jwt.MapClaims) (uint, error) {
	switch v := claims["id"].(type) {
	case float64:
		if v <= 0 {
			break
		}
		return uint(v), nil
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil || n == 0 {
			break
		}
		return uint(n), nil
	}
	return 0, errors.New("invalid token payload")
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return tok, tok != ""
}

// GetUserID returns the authenticated user id from the request context.
func GetUserID(r *http.Request) (uint, bool) {
	v := r.Context().Value(UserIDKey)
	id, ok := v.(uint)
	return id, ok
}

// GetRequestID returns the request id set by the request id middleware.
func GetRequestID(r *http.Request) string {
	s, _ := r.Context().Value(RequestIDKey).(string)
	return s
}
