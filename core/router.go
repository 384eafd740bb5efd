package core

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultPerPage       = 20
	maxPerPage           = 100
	defaultActivityLimit = 50
)

// Portal bundles what the HTTP surfaces need.
type Portal struct {
	Gateway  *SessionGateway
	Logins   *LoginService
	Accounts AccountRepository
	Activity ActivityLog
	CSRF     sessions.Store
	Logger   *zap.Logger
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, p Portal) *gin.Engine {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	r := gin.Default()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		p.Logger.Warn("invalid trusted proxies; trusting none", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}

	// Global middleware: origin/CORS -> CSRF
	r.Use(OriginRefererMiddleware(cfg))
	r.Use(CSRFMiddleware(p.CSRF))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/logout", func(c *gin.Context) {
		p.Gateway.Destroy(c.Writer)
		c.Status(http.StatusNoContent)
	})

	for _, role := range []Role{RoleAdministrator, RoleBusinessPartner} {
		r.GET(LoginPath(role), loginPageHandler(p, role))
		r.POST(LoginPath(role), loginHandler(p, role))
	}

	admin := r.Group("/admin", RequireRole(p.Gateway, RoleAdministrator))
	{
		admin.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"surface": RoleAdministrator})
		})

		admin.GET("/api/me", func(c *gin.Context) {
			principal, _ := CurrentPrincipal(c)
			c.JSON(http.StatusOK, gin.H{"role": principal.Role})
		})

		admin.GET("/api/partners", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			items, total, err := p.Accounts.ListPartners(c.Request.Context(), page, perPage)
			if err != nil {
				p.Logger.Error("list partners failed", zap.Error(err))
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to list partners")
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total":       total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		admin.GET("/api/login-activity", func(c *gin.Context) {
			limit := defaultActivityLimit
			if v := strings.TrimSpace(c.Query("limit")); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
					return
				}
				limit = min(n, loginActivityCap)
			}
			if p.Activity == nil {
				c.JSON(http.StatusOK, gin.H{"items": []LoginEvent{}})
				return
			}
			items, err := p.Activity.Recent(c.Request.Context(), limit)
			if err != nil {
				p.Logger.Error("read login activity failed", zap.Error(err))
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to read login activity")
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": items})
		})

		admin.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	partner := r.Group("/partner", RequireRole(p.Gateway, RoleBusinessPartner))
	{
		partner.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"surface": RoleBusinessPartner})
		})

		partner.GET("/api/me", func(c *gin.Context) {
			principal, _ := CurrentPrincipal(c)
			rec, err := p.Accounts.GetPartner(c.Request.Context(), principal.IdentityID)
			if errors.Is(err, ErrAccountNotFound) {
				// Business record removed after the credential was issued.
				p.Gateway.Destroy(c.Writer)
				respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "login required")
				return
			}
			if err != nil {
				p.Logger.Error("load partner failed", zap.Error(err), zap.Int64("business_id", principal.IdentityID))
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to load partner")
				return
			}
			c.JSON(http.StatusOK, rec)
		})
	}

	return r
}

func loginPageHandler(p Portal, role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, ok := p.Gateway.CurrentPrincipal(c.Request); ok && principal.Role == role {
			c.Redirect(http.StatusFound, HomePath(role))
			return
		}
		c.JSON(http.StatusOK, gin.H{"surface": role, "login": LoginPath(role)})
	}
}

func loginHandler(p Portal, role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" form:"username"`
			Email    string `json:"email" form:"email"`
			Password string `json:"password" form:"password"`
		}
		if err := c.ShouldBind(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
			return
		}
		identifier := req.Username
		if role == RoleBusinessPartner {
			identifier = firstNonEmpty(req.Email, req.Username)
		}

		res, err := p.Logins.Login(c.Request.Context(), role, c.ClientIP(), identifier, req.Password)
		switch {
		case errors.Is(err, ErrRateLimited):
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			respondError(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many login attempts, try again later")
			return
		case errors.Is(err, ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"code":               "INVALID_CREDENTIALS",
				"message":            "invalid login or password",
				"remaining_attempts": res.Attempt.Remaining,
			}})
			return
		case err != nil:
			p.Logger.Error("login failed", zap.Error(err), zap.String("surface", string(role)))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "login failed")
			return
		}

		if err := p.Gateway.Issue(c.Writer, res.Principal); err != nil {
			p.Logger.Error("issue credential failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to set session")
			return
		}
		c.JSON(http.StatusOK, gin.H{"role": res.Principal.Role, "redirect": HomePath(role)})
	}
}

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		perPage = min(p, maxPerPage)
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
