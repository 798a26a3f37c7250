package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"manin/internal/cache"
)

const testSecret = "test-secret"

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{JWTSecret: testSecret, AdminEmails: []string{"Owner@Example.com"}})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	return v
}

func userClaims(id string) Claims {
	return Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id}}
}

func token(t *testing.T, v *Verifier, c Claims) string {
	t.Helper()
	s, err := v.Sign(c, time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return s
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(Config{}); err != ErrNoSecret {
		t.Errorf("Expected ErrNoSecret, got %v", err)
	}
	if _, err := NewVerifier(Config{Disabled: true}); err != nil {
		t.Errorf("Expected disabled auth without secret to be fine, got %v", err)
	}
}

func TestParse(t *testing.T) {
	v := newVerifier(t)
	other, _ := NewVerifier(Config{JWTSecret: "other"})

	valid := token(t, v, userClaims("u1"))
	expired, _ := v.Sign(Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}, 0)
	noSubject := token(t, v, Claims{Email: "a@b.c"})
	foreign := token(t, other, userClaims("u1"))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, userClaims("u1")).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", valid, false},
		{"expired", expired, true},
		{"no subject", noSubject, true},
		{"wrong secret", foreign, true},
		{"alg none", none, true},
		{"garbage", "not.a.token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.Parse(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected err=%v, got %v", tt.wantErr, err)
			}
			if err == nil && c.UserID() != "u1" {
				t.Errorf("Expected subject u1, got %s", c.UserID())
			}
		})
	}
}

func TestIsPro(t *testing.T) {
	v := newVerifier(t)
	tests := []struct {
		name   string
		claims *Claims
		want   bool
	}{
		{"nil", nil, false},
		{"free", &Claims{}, false},
		{"active subscription", &Claims{AppMetadata: AppMetadata{SubscriptionStatus: "active"}}, true},
		{"cancelled subscription", &Claims{AppMetadata: AppMetadata{SubscriptionStatus: "canceled"}}, false},
		{"is_pro flag", &Claims{UserMetadata: UserMetadata{IsPro: true}}, true},
		{"admin email", &Claims{Email: "owner@example.com"}, true},
	}
	for _, tt := range tests {
		if got := v.IsPro(tt.claims); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-User", c.UserID())
		w.WriteHeader(http.StatusOK)
	})
}

func do(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/penny/scan", nil)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser(t *testing.T) {
	v := newVerifier(t)
	h := v.RequireUser(okHandler())

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, v, userClaims("u1")), http.StatusOK},
	}
	for _, tt := range tests {
		rec := do(h, tt.header)
		if rec.Code != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.status, rec.Code)
		}
	}
}

func TestRequireProTrial(t *testing.T) {
	v := newVerifier(t)
	ledger := NewTrialLedger(cache.NewMemoryStore())
	h := v.RequirePro(ledger)(okHandler())

	free := "Bearer " + token(t, v, userClaims("free-user"))
	if rec := do(h, free); rec.Code != http.StatusOK {
		t.Fatalf("Expected first trial request to pass, got %d", rec.Code)
	}
	if used, _ := ledger.Used(context.Background(), "free-user"); !used {
		t.Error("Expected trial recorded in the ledger")
	}
	if rec := do(h, free); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 after the trial, got %d", rec.Code)
	}

	spent := userClaims("spent-user")
	spent.UserMetadata.HasUsedTrial = true
	if rec := do(h, "Bearer "+token(t, v, spent)); rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a token marking the trial used, got %d", rec.Code)
	}

	pro := userClaims("pro-user")
	pro.AppMetadata.SubscriptionStatus = "active"
	proToken := "Bearer " + token(t, v, pro)
	for i := 0; i < 3; i++ {
		if rec := do(h, proToken); rec.Code != http.StatusOK {
			t.Errorf("Expected pro access on call %d, got %d", i, rec.Code)
		}
	}
	if used, _ := ledger.Used(context.Background(), "pro-user"); used {
		t.Error("Expected pro requests not to consume a trial")
	}

	if rec := do(h, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a token, got %d", rec.Code)
	}
}

func TestDisabled(t *testing.T) {
	v, err := NewVerifier(Config{Disabled: true})
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	h := v.RequirePro(NewTrialLedger(cache.NewMemoryStore()))(okHandler())

	rec := do(h, "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-User") != "anonymous" {
		t.Errorf("Expected anonymous pass-through, got %d %q", rec.Code, rec.Header().Get("X-User"))
	}
}

func TestRequireUserQueryToken(t *testing.T) {
	v := newVerifier(t)
	h := v.RequireUser(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/stream?token="+token(t, v, userClaims("u1")), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected a query token to authenticate, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream?token=nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected a bad query token rejected, got %d", rec.Code)
	}
}
