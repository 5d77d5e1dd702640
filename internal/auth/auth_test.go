package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exoweb/internal/api"
)

const secret = "test-secret"

func TestToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken("alice", []string{"editor"}, secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.True(t, claims.HasRole("editor"))
	assert.False(t, claims.HasRole("admin"))
	assert.NotEmpty(t, claims.ID)

	_, err = ParseToken(tok, "other-secret")
	assert.Error(t, err)

	expired, err := GenerateToken("alice", nil, secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	assert.Error(t, err)

	_, err = GenerateToken("alice", nil, "", time.Hour)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	logger, _ := test.NewNullLogger()
	app := fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler(logrus.NewEntry(logger))})
	app.Get("/me", Middleware(secret), func(c *fiber.Ctx) error {
		return c.SendString(GetClaims(c).Subject)
	})

	tok, err := GenerateToken("bob", nil, secret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + tok, fiber.StatusOK},
		{"lowercase scheme", "bearer " + tok, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, fiber.StatusUnauthorized},
		{"garbage", "Bearer nope", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
