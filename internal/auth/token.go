package auth

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

var errNoActor = errors.New("token has no usable subject or role")

// TokenManager verifies HS256 session tokens issued by the identity provider.
// Issuing is only used by tooling and tests.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// Claims carries the actor a token stands for.
type Claims struct {
	SubjectID     string      `json:"sub"`
	Role          domain.Role `json:"role"`
	ApproverLevel int         `json:"approver_level,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the caller the claims describe.
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{ID: c.SubjectID, Role: c.Role, ApproverLevel: c.ApproverLevel}
}

// GenerateToken signs a token for actor valid for the manager's ttl.
func (tm *TokenManager) GenerateToken(actor domain.Actor) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		SubjectID:     actor.ID,
		Role:          actor.Role,
		ApproverLevel: actor.ApproverLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies the signature and lifetime of raw and returns its
// claims. A token naming an unknown role is rejected.
func (tm *TokenManager) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, err := tm.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	}); err != nil {
		return nil, err
	}
	if claims.SubjectID == "" || !claims.Role.Valid() {
		return nil, errNoActor
	}
	return claims, nil
}

// Authenticate resolves a raw token to its subject id, for the push hub.
func (tm *TokenManager) Authenticate(token string) (string, error) {
	claims, err := tm.ParseToken(token)
	if err != nil {
		return "", err
	}
	return claims.SubjectID, nil
}
