package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"libris.org/internal/auth"
)

func postJSON(t *testing.T, path, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func refreshCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", refreshCookieName)
	return nil
}

func TestRegisterEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, postJSON(t, "/v1/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"Sup3r-secret"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["email"] != "ada@example.com" || body["role"] != auth.RoleUser {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["password"]; ok {
		t.Fatal("password leaked into response")
	}

	rr = f.do(t, postJSON(t, "/v1/auth/register",
		`{"name":"Ada","email":"ada@example.com","password":"Sup3r-secret"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rr.Code)
	}

	rr = f.do(t, postJSON(t, "/v1/auth/register",
		`{"name":"Eve","email":"eve@example.com","password":"Sup3r-secret","role":"admin","admin_key":"wrong"}`))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("bad admin key status = %d, want 403", rr.Code)
	}
}

func TestLoginEndpointSetsCookie(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndLogin(t, "reader@example.com", auth.RoleUser)

	rr := f.do(t, postJSON(t, "/v1/auth/login",
		`{"email":"reader@example.com","password":"Sup3r-secret"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	if body["access_token"] == "" {
		t.Fatal("missing access token")
	}

	c := refreshCookie(t, rr)
	if c.Value == "" {
		t.Fatal("empty refresh cookie")
	}
	if !c.HttpOnly {
		t.Fatal("refresh cookie must be HttpOnly")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatal("refresh cookie must be SameSite=Strict")
	}
	if c.Path != "/" {
		t.Fatalf("cookie path = %q, want /", c.Path)
	}
	if c.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("cookie max-age = %d", c.MaxAge)
	}

	rr = f.do(t, postJSON(t, "/v1/auth/login",
		`{"email":"reader@example.com","password":"wrong-password"}`))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rr.Code)
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndLogin(t, "reader@example.com", auth.RoleUser)

	login := f.do(t, postJSON(t, "/v1/auth/login",
		`{"email":"reader@example.com","password":"Sup3r-secret"}`))
	first := refreshCookie(t, login)

	f.clock.Advance(time.Minute)
	req := postJSON(t, "/v1/auth/refresh", "")
	req.Body = http.NoBody
	req.AddCookie(first)
	rr := f.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	second := refreshCookie(t, rr)
	if second.Value == first.Value {
		t.Fatal("refresh token was not rotated")
	}

	// Replaying the first cookie is reuse: generic 401 and a cleared cookie.
	req = postJSON(t, "/v1/auth/refresh", "")
	req.Body = http.NoBody
	req.AddCookie(first)
	rr = f.do(t, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "session expired" {
		t.Fatalf("replay error = %v, want the generic message", body["error"])
	}
	cleared := refreshCookie(t, rr)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %+v", cleared)
	}

	// The burn killed the rotated token too.
	req = postJSON(t, "/v1/auth/refresh", "")
	req.Body = http.NoBody
	req.AddCookie(second)
	rr = f.do(t, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("post-burn status = %d, want 401", rr.Code)
	}
}

func TestRefreshEndpointWithoutCookie(t *testing.T) {
	f := newAPIFixture(t)

	req := postJSON(t, "/v1/auth/refresh", "")
	req.Body = http.NoBody
	rr := f.do(t, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "session expired" {
		t.Fatalf("error = %v, want the generic message", body["error"])
	}
}

func TestLogoutAlwaysClearsCookie(t *testing.T) {
	f := newAPIFixture(t)
	token, accountID := f.registerAndLogin(t, "reader@example.com", auth.RoleUser)

	req := postJSON(t, "/v1/auth/logout", "")
	req.Body = http.NoBody
	req.Header.Set("Authorization", "Bearer "+token)
	rr := f.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	cleared := refreshCookie(t, rr)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected clearing cookie, got %+v", cleared)
	}

	account, err := f.store.FindAccount(req.Context(), accountID)
	if err != nil {
		t.Fatalf("FindAccount: %v", err)
	}
	if account.RefreshToken != nil {
		t.Fatal("refresh slot not cleared")
	}
}

func TestMeEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	token, accountID := f.registerAndLogin(t, "reader@example.com", auth.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := f.do(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["id"] != accountID || body["email"] != "reader@example.com" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestPasswordResetEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndLogin(t, "reader@example.com", auth.RoleUser)

	rr := f.do(t, postJSON(t, "/v1/auth/forgot-password", `{"email":"reader@example.com"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot status = %d: %s", rr.Code, rr.Body.String())
	}
	code := f.mailer.lastCode(t)

	rr = f.do(t, postJSON(t, "/v1/auth/verify-otp",
		`{"email":"reader@example.com","code":"`+code+`"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, postJSON(t, "/v1/auth/reset-password",
		`{"email":"reader@example.com","code":"`+code+`","password":"An0ther-secret"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, postJSON(t, "/v1/auth/login",
		`{"email":"reader@example.com","password":"An0ther-secret"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password = %d: %s", rr.Code, rr.Body.String())
	}

	// Unknown emails get the same response as known ones.
	rr = f.do(t, postJSON(t, "/v1/auth/forgot-password", `{"email":"ghost@example.com"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown email status = %d, want 200", rr.Code)
	}
}
