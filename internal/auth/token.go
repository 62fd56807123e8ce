package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/racedesk/apiserver/types"
)

// Claims is the JWT payload understood by JWTIdentity.
type Claims struct {
	jwt.RegisteredClaims
	Nick string     `json:"nick,omitempty"`
	Role types.Role `json:"role"`
}

// JWTIdentity reads an HS256 bearer token from the Authorization header.
type JWTIdentity struct {
	secret []byte
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: []byte(secret)}
}

func (j *JWTIdentity) Identify(r *http.Request) (Caller, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		return Caller{}, ErrNoIdentity
	}
	return j.Parse(tokenString)
}

// Parse validates tokenString and converts its claims into a Caller.
func (j *JWTIdentity) Parse(tokenString string) (Caller, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return j.secret, nil
	})
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	if !token.Valid {
		return Caller{}, fmt.Errorf("%w: invalid token", ErrNoIdentity)
	}

	id, err := uuid.Parse(strings.TrimSpace(claims.Subject))
	if err != nil {
		return Caller{}, fmt.Errorf("%w: invalid subject", ErrNoIdentity)
	}
	return Caller{ID: id, Nick: claims.Nick, Role: claims.Role}, nil
}

// IssueToken signs a token for caller that expires after ttl.
func IssueToken(caller Caller, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Nick: caller.Nick,
		Role: caller.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
