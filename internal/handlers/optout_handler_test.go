package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/marens-d/CoachDeskBack/internal/services"
)

type stubOptOutService struct {
	userID    int64
	err       error
	lastToken string
}

func (s *stubOptOutService) HandleOptOut(_ context.Context, token string) (int64, error) {
	s.lastToken = token
	return s.userID, s.err
}

func newOptOutTestApp(service optOutService) *fiber.App {
	handler := &OptOutHandler{service: service}

	app := fiber.New()
	app.Get("/api/feedback/opt-out", handler.OptOut)
	return app
}

func TestOptOutForwardsToken(t *testing.T) {
	service := &stubOptOutService{userID: 42}
	app := newOptOutTestApp(service)

	req := httptest.NewRequest(http.MethodGet, "/api/feedback/opt-out?token=abc.def", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if service.lastToken != "abc.def" {
		t.Fatalf("expected forwarded token, got %q", service.lastToken)
	}
}

func TestOptOutRequiresToken(t *testing.T) {
	service := &stubOptOutService{}
	app := newOptOutTestApp(service)

	req := httptest.NewRequest(http.MethodGet, "/api/feedback/opt-out", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if service.lastToken != "" {
		t.Fatal("expected the service to be skipped")
	}
}

func TestOptOutRejectsInvalidToken(t *testing.T) {
	service := &stubOptOutService{err: services.ErrInvalidOptOutToken}
	app := newOptOutTestApp(service)

	req := httptest.NewRequest(http.MethodGet, "/api/feedback/opt-out?token=tampered", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
