package middleware

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func protectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWTProtected(testSecret), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c).String())
	})
	return app
}

func TestJWTProtectedAcceptsAccessToken(t *testing.T) {
	userID := uuid.New()
	access, _, err := GenerateTokens(userID, "a@example.com", testSecret)
	if err != nil {
		t.Fatalf("GenerateTokens failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := protectedApp().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestJWTProtectedRejects(t *testing.T) {
	userID := uuid.New()
	_, refresh, _ := GenerateTokens(userID, "a@example.com", testSecret)
	foreign, _, _ := GenerateTokens(userID, "a@example.com", "other-secret")

	cases := map[string]string{
		"missing header": "",
		"no bearer":      refresh,
		"refresh token":  "Bearer " + refresh,
		"wrong secret":   "Bearer " + foreign,
		"garbage":        "Bearer not.a.token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := protectedApp().Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestQueryTokenOnlyForWebSocket(t *testing.T) {
	access, _, _ := GenerateTokens(uuid.New(), "a@example.com", testSecret)

	req := httptest.NewRequest("GET", "/me?token="+access, nil)
	resp, err := protectedApp().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("plain requests must not authenticate via query, got %d", resp.StatusCode)
	}
}

func TestParseTokenType(t *testing.T) {
	_, refresh, _ := GenerateTokens(uuid.New(), "a@example.com", testSecret)
	if _, err := ParseToken(refresh, testSecret, TokenAccess); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("expected ErrWrongTokenType, got %v", err)
	}
	claims, err := ParseToken(refresh, testSecret, TokenRefresh)
	if err != nil || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims %+v err=%v", claims, err)
	}
}
