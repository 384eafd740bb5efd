package core

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionGateway moves credentials between principals and HTTP cookies.
type SessionGateway struct {
	codec    CredentialCodec
	name     string
	maxAge   time.Duration
	secure   bool
	sameSite http.SameSite
	logger   *zap.Logger
}

// NewSessionGateway wires a codec to the cookie settings in cfg.
func NewSessionGateway(cfg SecurityConfig, codec CredentialCodec, logger *zap.Logger) *SessionGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionGateway{
		codec:    codec,
		name:     cfg.CookieName,
		maxAge:   cfg.CookieMaxAge,
		secure:   cfg.CookieSecure,
		sameSite: sameSiteFromString(cfg.CookieSameSite),
		logger:   logger,
	}
}

// Issue signs a credential for p and attaches it to the response.
func (g *SessionGateway) Issue(w http.ResponseWriter, p Principal) error {
	token, err := g.codec.Sign(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, g.cookie(token, int(g.maxAge/time.Second)))
	return nil
}

// CurrentPrincipal returns the principal carried by the request's credential.
// A missing, malformed or forged credential all yield ok=false.
func (g *SessionGateway) CurrentPrincipal(r *http.Request) (Principal, bool) {
	c, err := r.Cookie(g.name)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return Principal{}, false
	}
	p, ok := g.codec.Verify(c.Value)
	if !ok {
		metricRejectedCredentials.Inc()
		g.logger.Debug("rejected session credential", zap.String("remote_addr", r.RemoteAddr))
		return Principal{}, false
	}
	return p, true
}

// IsAuthenticated reports whether the request carries a valid credential.
func (g *SessionGateway) IsAuthenticated(r *http.Request) bool {
	_, ok := g.CurrentPrincipal(r)
	return ok
}

// Destroy tells the client to drop its credential.
func (g *SessionGateway) Destroy(w http.ResponseWriter) {
	c := g.cookie("", -1)
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (g *SessionGateway) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     g.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: g.sameSite,
	}
}
