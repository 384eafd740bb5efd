package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type routerFixture struct {
	engine    *gin.Engine
	gateway   *SessionGateway
	activity  *fakeActivity
	partnerID int64
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	cfg := Defaults()
	cfg.Security = testSecurityConfig()
	cfg.AllowedOrigins = []string{"https://portal.example"}

	hasher := BcryptHasher{Cost: bcrypt.MinCost}
	accounts := newFakeAccounts()
	ctx := context.Background()
	adminHash, _ := hasher.Hash("admin-pass")
	_, err := accounts.CreateAdministrator(ctx, "root", adminHash)
	require.NoError(t, err)
	partnerHash, _ := hasher.Hash("partner-pass")
	partnerID, err := accounts.CreatePartner(ctx, "Acme Ltd", "ops@acme.test", partnerHash)
	require.NoError(t, err)

	gw := NewSessionGateway(cfg.Security, NewHMACCodec(cfg.Security), nil)
	ledger := NewAttemptLedger(cfg.Security)
	activity := &fakeActivity{}

	engine := NewRouter(cfg, Portal{
		Gateway:  gw,
		Logins:   NewLoginService(accounts, hasher, ledger, activity, nil),
		Accounts: accounts,
		Activity: activity,
		CSRF:     sessions.NewCookieStore([]byte("csrf-test-key")),
	})
	return &routerFixture{engine: engine, gateway: gw, activity: activity, partnerID: partnerID}
}

func (f *routerFixture) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "portal_session" {
			return c
		}
	}
	t.Fatalf("no session cookie in response: %v", rec.Header().Values("Set-Cookie"))
	return nil
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(csrfHeader))
}

func TestAdministratorLoginFlow(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(jsonRequest(http.MethodPost, "/admin/login", `{"username":"root","password":"admin-pass"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"role":"admin","redirect":"/admin/"}`, rec.Body.String())
	session := sessionCookie(t, rec)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/api/me", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"role":"admin"}`, rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/api/partners", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []PartnerRecord `json:"items"`
		Total int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Acme Ltd", page.Items[0].CompanyName)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/api/login-activity?limit=5", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"succeeded"`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/metrics", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "portal_login_attempts_total")

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/login", nil), session)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/", rec.Header().Get("Location"))
}

func TestPartnerLoginFlow(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/partner/login", strings.NewReader("email=ops%40acme.test&password=partner-pass"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := sessionCookie(t, rec)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/partner/api/me", nil), session)
	require.Equal(t, http.StatusOK, rec.Code)
	var me PartnerRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, f.partnerID, me.BusinessID)
	assert.Equal(t, "Acme Ltd", me.CompanyName)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/api/me", nil), session)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/partner/", rec.Header().Get("Location"), "partners are sent to their own surface")
}

func TestProtectedRoutesWithoutSession(t *testing.T) {
	f := newRouterFixture(t)
	for path, login := range map[string]string{
		"/admin/api/partners": "/admin/login",
		"/admin/metrics":      "/admin/login",
		"/partner/api/me":     "/partner/login",
	} {
		rec := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, login, rec.Header().Get("Location"), path)
	}

	forged := &http.Cookie{Name: "portal_session", Value: testNonce + ".deadbeef"}
	rec := f.do(httptest.NewRequest(http.MethodGet, "/admin/api/me", nil), forged)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))
}

func TestPartnerWithDeletedBusinessIsLoggedOut(t *testing.T) {
	f := newRouterFixture(t)
	rec := httptest.NewRecorder()
	require.NoError(t, f.gateway.Issue(rec, PartnerPrincipal(9999)))
	session := sessionCookie(t, rec)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/partner/api/me", nil), session)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sessionCookie(t, rec).Value)
}

func TestLoginLockoutOverHTTP(t *testing.T) {
	f := newRouterFixture(t)
	for want := 4; want >= 1; want-- {
		rec := f.do(jsonRequest(http.MethodPost, "/admin/login", `{"username":"root","password":"wrong"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var body struct {
			Error struct {
				Code      string `json:"code"`
				Remaining int    `json:"remaining_attempts"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "INVALID_CREDENTIALS", body.Error.Code)
		assert.Equal(t, want, body.Error.Remaining)
	}

	rec := f.do(jsonRequest(http.MethodPost, "/admin/login", `{"username":"root","password":"admin-pass"}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "TOO_MANY_ATTEMPTS")
	for _, c := range rec.Result().Cookies() {
		assert.NotEqual(t, "portal_session", c.Name, "no credential while locked out")
	}

	// Lockout is per client; another address can still log in.
	req := jsonRequest(http.MethodPost, "/admin/login", `{"username":"root","password":"admin-pass"}`)
	req.RemoteAddr = "198.51.100.20:4000"
	rec = f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutRequiresCSRFToken(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	first := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	token := first.Header().Get(csrfHeader)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(csrfHeader, token)
	rec = f.do(req, first.Result().Cookies()...)
	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestOriginCheck(t *testing.T) {
	f := newRouterFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, f.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://portal.example")
	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://portal.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginActivityRejectsBadLimit(t *testing.T) {
	f := newRouterFixture(t)
	rec := httptest.NewRecorder()
	require.NoError(t, f.gateway.Issue(rec, AdministratorPrincipal()))
	session := sessionCookie(t, rec)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/admin/api/login-activity?limit=-1", nil), session)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParsePagination(t *testing.T) {
	page, perPage, err := parsePagination("", "")
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPerPage, perPage)

	_, perPage, err = parsePagination("2", "1000")
	require.NoError(t, err)
	assert.Equal(t, maxPerPage, perPage)

	_, _, err = parsePagination("0", "")
	assert.Error(t, err)
	assert.Equal(t, 3, calcTotalPages(41, 20))
}
