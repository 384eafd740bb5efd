package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Access is the outcome of a role gate.
type Access int

const (
	AccessAuthorized Access = iota
	AccessUnauthenticated
	AccessWrongRole
)

func (a Access) String() string {
	switch a {
	case AccessAuthorized:
		return "authorized"
	case AccessUnauthenticated:
		return "unauthenticated"
	case AccessWrongRole:
		return "wrong_role"
	default:
		return "unknown"
	}
}

const principalContextKey = "principal"

// Authorize decides whether principal may enter the surface reserved for required.
// authenticated=false means no valid credential was presented.
func Authorize(principal Principal, authenticated bool, required Role) Access {
	if !authenticated {
		return AccessUnauthenticated
	}
	if principal.Role != required {
		return AccessWrongRole
	}
	return AccessAuthorized
}

// LoginPath is where an unauthenticated visitor of role's surface is sent.
func LoginPath(role Role) string {
	if role == RoleBusinessPartner {
		return "/partner/login"
	}
	return "/admin/login"
}

// HomePath is the landing page of role's surface.
func HomePath(role Role) string {
	if role == RoleBusinessPartner {
		return "/partner/"
	}
	return "/admin/"
}

// RequireRole gates a route group to principals holding required. Visitors
// without a session go to that surface's login page; principals of the other
// role go to their own surface.
func RequireRole(gw *SessionGateway, required Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := gw.CurrentPrincipal(c.Request)
		switch Authorize(p, ok, required) {
		case AccessUnauthenticated:
			c.Redirect(http.StatusFound, LoginPath(required))
			c.Abort()
			return
		case AccessWrongRole:
			c.Redirect(http.StatusFound, HomePath(p.Role))
			c.Abort()
			return
		}
		c.Set(principalContextKey, p)
		c.Next()
	}
}

// CurrentPrincipal returns the principal stored by RequireRole.
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
