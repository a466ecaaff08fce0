/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-dcrkit"
	"github.com/acronis/go-dcrkit/api"
	"github.com/acronis/go-dcrkit/internal/idputil"
)

const (
	cfgKeyServerAddress           = "address"
	cfgKeyServerReadHeaderTimeout = "readHeaderTimeout"
)

const metricsPath = "/metrics"

var errMessageUpstreamUnavailable = "Upstream agent is unavailable"

// serverConfig is the "server" section of the configuration file.
type serverConfig struct {
	Address           string              `mapstructure:"address" yaml:"address" json:"address"`
	ReadHeaderTimeout config.TimeDuration `mapstructure:"readHeaderTimeout" yaml:"readHeaderTimeout" json:"readHeaderTimeout"`
}

var _ config.Config = (*serverConfig)(nil)
var _ config.KeyPrefixProvider = (*serverConfig)(nil)

func (c *serverConfig) KeyPrefix() string {
	return "server"
}

func (c *serverConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, ":8080")
	dp.SetDefault(cfgKeyServerReadHeaderTimeout, "10s")
}

func (c *serverConfig) Set(dp config.DataProvider) error {
	var err error
	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("address is required"))
	}
	var readHeaderTimeout time.Duration
	if readHeaderTimeout, err = dp.GetDuration(cfgKeyServerReadHeaderTimeout); err != nil {
		return err
	}
	c.ReadHeaderTimeout = config.TimeDuration(readHeaderTimeout)
	return nil
}

// newHandler builds the HTTP handler of the service: /dcr, /healthz, /metrics and, if enabled,
// the gateway prefix protected by token introspection.
func newHandler(cfg *dcrkit.Config, svc *dcrkit.Service, logger log.FieldLogger) (http.Handler, error) {
	mux := api.NewRouter(api.NewDCRHandler(svc.Orchestrator, svc.EventAdapter, api.DCRHandlerOpts{}))
	mux.Handle(metricsPath, promhttp.Handler())

	if cfg.Gateway.Enabled {
		agentHandler, err := newAgentHandler(cfg.Gateway.UpstreamURL, logger)
		if err != nil {
			return nil, err
		}
		gateway := dcrkit.NewGatewayMiddleware(cfg, svc.Introspector, dcrkit.WithLogger(logger))(agentHandler)
		if pathPrefix := strings.TrimSuffix(cfg.Gateway.PathPrefix, "/"); pathPrefix != "" {
			mux.Handle(pathPrefix, gateway)
			mux.Handle(pathPrefix+"/", gateway)
		} else {
			mux.Handle("/", gateway)
		}
	}

	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID()(handler)
	return handler, nil
}

// newAgentHandler returns a reverse proxy to the upstream agent or, if no upstream is configured,
// a handler that answers with the identity of the introspected token.
func newAgentHandler(upstreamURL string, logger log.FieldLogger) (http.Handler, error) {
	if upstreamURL == "" {
		logger.Warn("gateway upstream URL is not configured, built-in agent handler is used")
		return http.HandlerFunc(serveBuiltinAgent), nil
	}
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway upstream URL: %w", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(rw http.ResponseWriter, r *http.Request, proxyErr error) {
		reqLogger := logger
		if ctxLogger := middleware.GetLoggerFromContext(r.Context()); ctxLogger != nil {
			reqLogger = ctxLogger
		}
		reqLogger.Error(fmt.Sprintf("proxy request to %s failed", target), log.Error(proxyErr))
		api.RespondError(rw, http.StatusBadGateway, errMessageUpstreamUnavailable, "", reqLogger)
	}
	return proxy, nil
}

// agentResponse is the body of the built-in agent handler.
type agentResponse struct {
	Subject  string   `json:"sub,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Scopes   []string `json:"scopes"`
	Time     string   `json:"time"`
}

func serveBuiltinAgent(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), middleware.GetLoggerFromContext)
	res, ok := dcrkit.GetIntrospectionResultFromContext(r.Context())
	if !ok {
		api.RespondError(rw, http.StatusNotFound, "Not found", "", logger)
		return
	}
	restapi.RespondJSON(rw, agentResponse{
		Subject:  res.Subject,
		ClientID: res.ClientID,
		Scopes:   res.Scopes(),
		Time:     time.Now().UTC().Format(time.RFC3339),
	}, logger)
}
