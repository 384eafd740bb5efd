package core

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const csrfCookieName = "portal_csrf"
const csrfHeader = "X-CSRF-Token"

// NewCSRFStore returns the cookie store holding per-client CSRF tokens.
func NewCSRFStore(cfg Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.CSRFKey))
	store.Options = csrfCookieOptions(cfg.Security)
	return store
}

// OriginRefererMiddleware validates Origin/Referer against allowed list and sets CORS headers.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin string) bool {
		if origin == "" {
			// Same-origin navigation (no Origin header) is allowed.
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if referer := c.GetHeader("Referer"); origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}

		if !isAllowed(origin) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}

		if c.Request.Method == http.MethodOptions && origin != "" {
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Headers", "Content-Type, "+csrfHeader)
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
}

// CSRFMiddleware issues a per-client token and requires it on unsafe methods.
func CSRFMiddleware(store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := store.Get(c.Request, csrfCookieName)
		if err != nil && sess == nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "csrf session error")
			c.Abort()
			return
		}

		token, _ := sess.Values["token"].(string)
		if token == "" {
			if token, err = generateCSRFToken(); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
				c.Abort()
				return
			}
			sess.Values["token"] = token
			if err := sess.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist csrf token")
				c.Abort()
				return
			}
		}

		if !isSafeMethod(c.Request.Method) && !csrfExemptPath(c.Request.URL.Path) {
			if h := c.GetHeader(csrfHeader); h == "" || h != token {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
				c.Abort()
				return
			}
		}

		// Expose token so frontend can read and reuse.
		c.Writer.Header().Set(csrfHeader, token)
		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Login forms are posted before the client holds a token.
func csrfExemptPath(path string) bool {
	switch path {
	case LoginPath(RoleAdministrator), LoginPath(RoleBusinessPartner):
		return true
	default:
		return false
	}
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func csrfCookieOptions(sec SecurityConfig) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(sec.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   sec.CookieSecure,
		SameSite: sameSiteFromString(sec.CookieSameSite),
	}
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
