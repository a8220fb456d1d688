package middleware

import (
	"bytes"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const (
	DefaultAdminHeader = "X-Admin-Token"
	DefaultUserHeader  = "X-User-ID"
)

var optionsMethod = []byte(fasthttp.MethodOptions)

// AuthMiddleware resolves the caller identity. The user id is taken from the
// upstream identity header; admin paths additionally require a token matching
// the configured bcrypt hash.
type AuthMiddleware struct {
	config        types.ConfigManager
	logger        types.Logger
	metrics       types.MetricsManager
	authConfig    *AuthConfig
	adminHash     []byte
	adminHeader   string
	userHeader    string
	name          string
	weight        int
	adminPrefixes []string
}

type AuthConfig struct {
	AdminPrefixes []string `json:"admin_prefixes"`
}

func NewAuthMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*AuthMiddleware, error) {
	var authConfig = &AuthConfig{
		AdminPrefixes: []string{"/cache/"},
	}

	item := config.GetConfig().Middlewares.Auth
	if params := paramsOf(item); params != nil {
		if err := utils.UnmarshalConfig(params, authConfig); err != nil {
			logger.Error("Failed to unmarshal Auth middleware config", zap.Error(err))
			return nil, err
		}
	}

	am := &AuthMiddleware{
		name:          "auth",
		config:        config,
		logger:        logger,
		metrics:       metrics,
		authConfig:    authConfig,
		adminHeader:   DefaultAdminHeader,
		userHeader:    DefaultUserHeader,
		weight:        weightOf(item, 40),
		adminPrefixes: authConfig.AdminPrefixes,
	}

	if auth := config.GetConfig().Auth; auth != nil {
		if auth.AdminHeader != "" {
			am.adminHeader = auth.AdminHeader
		}
		if auth.UserHeader != "" {
			am.userHeader = auth.UserHeader
		}
		if auth.AdminTokenHash != "" {
			if _, err := bcrypt.Cost([]byte(auth.AdminTokenHash)); err != nil {
				return nil, types.Errorf(types.ErrConfigValidateFailed, "auth.admin_token_hash: %v", err)
			}
			am.adminHash = []byte(auth.AdminTokenHash)
		}
	}

	if am.adminHash == nil {
		logger.Warn("No admin token hash configured, admin endpoints are closed")
	}

	return am, nil
}

func (a *AuthMiddleware) Name() string { return a.name }
func (a *AuthMiddleware) Weight() int  { return a.weight }

func (a *AuthMiddleware) Handle(ctx *fasthttp.RequestCtx, next func(*fasthttp.RequestCtx), _ *types.RouteConfig) {
	if userID := strings.TrimSpace(string(ctx.Request.Header.Peek(a.userHeader))); userID != "" {
		ctx.SetUserValue(types.UserIDKey, userID)
	}

	if bytes.Equal(ctx.Method(), optionsMethod) || !a.isAdminPath(ctx.Path()) {
		next(ctx)
		return
	}

	token := ctx.Request.Header.Peek(a.adminHeader)
	if len(token) == 0 {
		a.reject(ctx, "missing admin token")
		utils.CreateUnauthorizedResponse(ctx)
		return
	}

	if a.adminHash == nil || bcrypt.CompareHashAndPassword(a.adminHash, token) != nil {
		a.reject(ctx, "admin token mismatch")
		utils.CreateForbiddenResponse(ctx)
		return
	}

	ctx.SetUserValue(types.IsAdminKey, true)
	a.logger.Debug("Admin authenticated", zap.ByteString("path", ctx.Path()))

	next(ctx)
}

func (a *AuthMiddleware) isAdminPath(path []byte) bool {
	for _, prefix := range a.adminPrefixes {
		if bytes.HasPrefix(path, []byte(prefix)) {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) reject(ctx *fasthttp.RequestCtx, reason string) {
	a.metrics.Counter("auth_rejections_total", map[string]string{
		"reason": reason,
	}).Inc()

	a.logger.Warn("Authentication failed",
		zap.ByteString("path", ctx.Path()),
		zap.String("reason", reason),
		zap.Error(types.ErrAuthTokenInvalid))
}

// UserID returns the authenticated user id, or "" for anonymous callers.
func UserID(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(types.UserIDKey).(string)
	return id
}

func IsAdmin(ctx *fasthttp.RequestCtx) bool {
	admin, _ := ctx.UserValue(types.IsAdminKey).(bool)
	return admin
}
