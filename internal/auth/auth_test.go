package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/domain"
	apperrors "github.com/spec-kit/helpdesk/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	actor := domain.Actor{ID: "apr-1", Role: domain.RoleApprover, ApproverLevel: 2}

	token, expires, err := tm.GenerateToken(actor)
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor, claims.Actor())

	subject, err := tm.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "apr-1", subject)

	_, err = NewTokenManager("other", time.Minute).ParseToken(token)
	assert.Error(t, err)

	bad, _, err := tm.GenerateToken(domain.Actor{ID: "x", Role: "JANITOR"})
	require.NoError(t, err)
	_, err = tm.ParseToken(bad)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.SendStatus(de.HTTPStatus)
	}})
	app.Use(NewAuthMiddleware(tm).Handle)
	app.Get("/read", RequireRole(), func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok || p.ExpiresAt.IsZero() {
			return c.SendStatus(http.StatusInternalServerError)
		}
		return c.SendString(p.Actor.ID)
	})
	app.Post("/approve", RequireRole(domain.RoleApprover), RequireWriter(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	app.Post("/write", RequireWriter(), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})

	token := func(role domain.Role) string {
		tok, _, err := tm.GenerateToken(domain.Actor{ID: "u-1", Role: role})
		require.NoError(t, err)
		return "Bearer " + tok
	}

	cases := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"not bearer", http.MethodGet, "/read", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", http.MethodGet, "/read", "Bearer  ", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/read", "Bearer abc", http.StatusUnauthorized},
		{"lowercase scheme", http.MethodGet, "/read", "bearer " + strings.TrimPrefix(token(domain.RoleRequestor), "Bearer "), http.StatusOK},
		{"any role reads", http.MethodGet, "/read", token(domain.RoleRequestor), http.StatusOK},
		{"wrong role", http.MethodPost, "/approve", token(domain.RoleReceiver), http.StatusForbidden},
		{"right role", http.MethodPost, "/approve", token(domain.RoleApprover), http.StatusNoContent},
		{"admin is read-only", http.MethodPost, "/write", token(domain.RoleAdmin), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestParseTokenRejectsLifetimeProblems(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	sign := func(claims jwt.RegisteredClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			SubjectID:        "req-1",
			Role:             domain.RoleRequestor,
			RegisteredClaims: claims,
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return tok
	}

	_, err := tm.ParseToken(sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}))
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = tm.ParseToken(sign(jwt.RegisteredClaims{}))
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)

	// Within the tolerated skew.
	_, err = tm.ParseToken(sign(jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second))}))
	assert.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{SubjectID: "req-1", Role: domain.RoleRequestor}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.ParseToken(none)
	assert.Error(t, err)
}
