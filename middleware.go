/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package dcrkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-dcrkit/api"
	"github.com/acronis/go-dcrkit/idptoken"
	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
)

// HeaderAuthorization contains the name of HTTP header with data that is used for authentication and authorization.
const HeaderAuthorization = "Authorization"

// Gateway error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageTokenNotActive           = "Token is not active"
	ErrMessageInsufficientScope        = "Insufficient scope"
	ErrMessageServerMisconfiguration   = "Server misconfiguration"
	ErrMessageTokenIntrospectionFailed = "Token introspection failed"
)

type ctxKey int

const (
	ctxKeyIntrospectionResult ctxKey = iota
	ctxKeyBearerToken
)

type introspectionHandler struct {
	next              http.Handler
	pathPrefix        string
	introspector      idptoken.TokenIntrospector
	publicPathMatches []func(string) bool
	requiredScope     string
	exposeErrorDetail bool
	loggerProvider    func(ctx context.Context) log.FieldLogger
	promMetrics       *metrics.PrometheusMetrics
}

type introspectionMiddlewareOpts struct {
	publicPaths                []string
	requiredScope              string
	exposeErrorDetail          bool
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// IntrospectionMiddlewareOption is an option for IntrospectionMiddleware.
type IntrospectionMiddlewareOption func(options *introspectionMiddlewareOpts)

// WithIntrospectionMiddlewarePublicPaths is an option to set glob patterns of the paths
// under the protected prefix that are served without authentication (e.g. agent discovery documents).
func WithIntrospectionMiddlewarePublicPaths(patterns []string) IntrospectionMiddlewareOption {
	return func(options *introspectionMiddlewareOpts) {
		options.publicPaths = patterns
	}
}

// WithIntrospectionMiddlewareRequiredScope is an option to set the scope the token must be granted.
// Empty scope disables the check.
func WithIntrospectionMiddlewareRequiredScope(scope string) IntrospectionMiddlewareOption {
	return func(options *introspectionMiddlewareOpts) {
		options.requiredScope = scope
	}
}

// WithIntrospectionMiddlewareExposeErrorDetail is an option to include the introspection error text
// in 500 responses.
func WithIntrospectionMiddlewareExposeErrorDetail(expose bool) IntrospectionMiddlewareOption {
	return func(options *introspectionMiddlewareOpts) {
		options.exposeErrorDetail = expose
	}
}

// WithIntrospectionMiddlewareLoggerProvider is an option to set a logger provider for IntrospectionMiddleware.
func WithIntrospectionMiddlewareLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) IntrospectionMiddlewareOption {
	return func(options *introspectionMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// WithIntrospectionMiddlewarePrometheusLibInstanceLabel is an option to set a label for Prometheus metrics
// that are used by IntrospectionMiddleware.
func WithIntrospectionMiddlewarePrometheusLibInstanceLabel(label string) IntrospectionMiddlewareOption {
	return func(options *introspectionMiddlewareOpts) {
		options.prometheusLibInstanceLabel = label
	}
}

// IntrospectionMiddleware is a middleware that protects all paths under pathPrefix.
// The bearer token from the "Authorization" HTTP header is checked with the introspection endpoint,
// it must be active and, if configured, granted the required scope.
// Requests outside pathPrefix and requests to the public paths are passed as is.
// For example, if the token is not active, the middleware will return 401 with the following response body:
//
//	{"error": "Token is not active"}
func IntrospectionMiddleware(
	pathPrefix string, introspector idptoken.TokenIntrospector, opts ...IntrospectionMiddlewareOption,
) func(next http.Handler) http.Handler {
	options := introspectionMiddlewareOpts{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}
	publicPathMatches := make([]func(string) bool, 0, len(options.publicPaths))
	for _, pattern := range options.publicPaths {
		publicPathMatches = append(publicPathMatches, glob.Compile(pattern))
	}
	pathPrefix = strings.TrimSuffix(pathPrefix, "/")
	return func(next http.Handler) http.Handler {
		return &introspectionHandler{
			next:              next,
			pathPrefix:        pathPrefix,
			introspector:      introspector,
			publicPathMatches: publicPathMatches,
			requiredScope:     options.requiredScope,
			exposeErrorDetail: options.exposeErrorDetail,
			loggerProvider:    options.loggerProvider,
			promMetrics:       metrics.GetPrometheusMetrics(options.prometheusLibInstanceLabel, metrics.SourceHTTPMiddleware),
		}
	}
}

func (h *introspectionHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if !h.isProtected(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	bearerToken := GetBearerTokenFromRequest(r)
	if bearerToken == "" {
		api.RespondError(rw, http.StatusUnauthorized, api.ErrMessageMissingAuthorization, "", logger)
		return
	}

	result, err := h.introspector.IntrospectToken(r.Context(), bearerToken)
	if err != nil {
		h.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusError)
		if errors.Is(err, idptoken.ErrMissingCredentials) {
			logger.Error("gateway introspection credentials are not configured", log.Error(err))
			api.RespondError(rw, http.StatusInternalServerError, ErrMessageServerMisconfiguration, "", logger)
			return
		}
		logger.Error("token's introspection failed", log.Error(err))
		var detail string
		if h.exposeErrorDetail {
			detail = err.Error()
		}
		api.RespondError(rw, http.StatusInternalServerError, ErrMessageTokenIntrospectionFailed, detail, logger)
		return
	}

	if !result.Active {
		logger.Warn("token was successfully introspected, but it is not active")
		h.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusNotActive)
		api.RespondError(rw, http.StatusUnauthorized, ErrMessageTokenNotActive, "", logger)
		return
	}

	if h.requiredScope != "" && !result.HasScope(h.requiredScope) {
		logger.Warn(fmt.Sprintf("token of client %q has no required scope %q (scope: %q)",
			result.ClientID, h.requiredScope, result.Scope))
		h.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusNoScope)
		api.RespondError(rw, http.StatusForbidden, ErrMessageInsufficientScope,
			"required scope: "+h.requiredScope, logger)
		return
	}

	logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		logFunc(fmt.Sprintf("token was successfully introspected (client: %s, sub: %s)", result.ClientID, result.Subject))
	})
	h.promMetrics.IncTokenIntrospectionsTotal(metrics.TokenIntrospectionStatusActive)

	ctx := NewContextWithBearerToken(r.Context(), bearerToken)
	ctx = NewContextWithIntrospectionResult(ctx, result)
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

func (h *introspectionHandler) isProtected(path string) bool {
	if h.pathPrefix != "" && path != h.pathPrefix && !strings.HasPrefix(path, h.pathPrefix+"/") {
		return false
	}
	for _, matches := range h.publicPathMatches {
		if matches(path) {
			return false
		}
	}
	return true
}

// GetBearerTokenFromRequest extracts the bearer token from the Authorization header.
// The scheme name is case-insensitive.
func GetBearerTokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	const bearerPrefix = "Bearer "
	if len(authHeader) > len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}
	return ""
}

// NewContextWithIntrospectionResult creates a new context with the introspection result.
func NewContextWithIntrospectionResult(ctx context.Context, result idptoken.IntrospectionResult) context.Context {
	return context.WithValue(ctx, ctxKeyIntrospectionResult, result)
}

// GetIntrospectionResultFromContext extracts the introspection result from the context.
func GetIntrospectionResultFromContext(ctx context.Context) (idptoken.IntrospectionResult, bool) {
	value, ok := ctx.Value(ctxKeyIntrospectionResult).(idptoken.IntrospectionResult)
	return value, ok
}

// NewContextWithBearerToken creates a new context with token.
func NewContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyBearerToken, token)
}

// GetBearerTokenFromContext extracts token from the context.
func GetBearerTokenFromContext(ctx context.Context) string {
	value := ctx.Value(ctxKeyBearerToken)
	if value == nil {
		return ""
	}
	return value.(string)
}
