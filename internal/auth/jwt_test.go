package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func init() {
	jwtSecret = []byte("test-secret")
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("u-1", "kim@example.com", "Kim", "reviewer")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != "u-1" || claims.Email != "kim@example.com" || claims.Role != "reviewer" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	if _, err := ParseToken("not.a.token"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestJWTMiddleware(t *testing.T) {
	handler := JWTMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/invoices" {
			if _, err := GetClaimsFromContext(r.Context()); err != nil {
				t.Errorf("claims missing on authenticated request: %v", err)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))

	// health endpoint stays open
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	// protected endpoint without a token
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invoices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	// protected endpoint with a valid token
	token, err := GenerateToken("u-1", "kim@example.com", "Kim", "reviewer")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}
