/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-dcrkit/internal/libinfo"
)

const PrometheusNamespace = "go_dcrkit"

const DefaultPrometheusLibInstanceLabel = "default"

const (
	PrometheusLibInstanceLabel = "lib_instance"
	PrometheusLibSourceLabel   = "lib_source"
)

const (
	SourceKeysClient         = "keys_client"
	SourceTokenProvider      = "token_provider"
	SourceTokenIntrospector  = "token_introspector"
	SourceClientRegistrar    = "client_registrar"
	SourceHTTPMiddleware     = "http_middleware"
	SourceProvisioning       = "provisioning"
	SourceStatementValidator = "statement_validator"
)

func PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{"lib_version": libinfo.GetLibVersion()}
}

const (
	HTTPClientRequestLabelMethod     = "method"
	HTTPClientRequestLabelURL        = "url"
	HTTPClientRequestLabelStatusCode = "status_code"
	HTTPClientRequestLabelError      = "error"

	TokenIntrospectionLabelStatus = "status"

	ProvisioningLabelChannel = "channel"
	ProvisioningLabelOutcome = "outcome"

	StatementValidationLabelResult = "result"
)

const (
	HTTPRequestErrorDo                   = "do_request_error"
	HTTPRequestErrorReadBody             = "read_body_error"
	HTTPRequestErrorDecodeBody           = "decode_body_error"
	HTTPRequestErrorUnexpectedStatusCode = "unexpected_status_code"
)

const (
	TokenIntrospectionStatusActive    = "active"
	TokenIntrospectionStatusNotActive = "not_active"
	TokenIntrospectionStatusNoScope   = "insufficient_scope"
	TokenIntrospectionStatusError     = "error"
)

const (
	ProvisioningChannelStatement = "statement"
	ProvisioningChannelEvent     = "event"

	ProvisioningOutcomeCreated  = "created"
	ProvisioningOutcomeExisting = "existing"
	ProvisioningOutcomeFailed   = "failed"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	prometheusMetrics     *PrometheusMetrics
	prometheusMetricsOnce sync.Once
)

// PrometheusMetrics represents the collector of metrics.
type PrometheusMetrics struct {
	HTTPClientRequestDuration *prometheus.HistogramVec
	TokenIntrospectionsTotal  *prometheus.CounterVec
	ProvisioningsTotal        *prometheus.CounterVec
	StatementValidationsTotal *prometheus.CounterVec
	KeysCache                 *lrucache.PrometheusMetrics
	TokenClaimsCache          *lrucache.PrometheusMetrics
	TokenNegativeCache        *lrucache.PrometheusMetrics
}

// GetPrometheusMetrics returns the process-wide collector curried with the instance and source labels.
// The collector is registered in the default Prometheus registry on the first call.
func GetPrometheusMetrics(instance string, source string) *PrometheusMetrics {
	prometheusMetricsOnce.Do(func() {
		prometheusMetrics = newPrometheusMetrics()
		prometheusMetrics.MustRegister()
	})
	if instance == "" {
		instance = DefaultPrometheusLibInstanceLabel
	}
	return prometheusMetrics.MustCurryWith(map[string]string{
		PrometheusLibInstanceLabel: instance,
		PrometheusLibSourceLabel:   source,
	})
}

func newPrometheusMetrics() *PrometheusMetrics {
	curriedLabelNames := []string{PrometheusLibInstanceLabel, PrometheusLibSourceLabel}
	makeLabelNames := func(names ...string) []string {
		l := append(make([]string, 0, len(curriedLabelNames)+len(names)), curriedLabelNames...)
		return append(l, names...)
	}

	httpClientReqDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   PrometheusNamespace,
			Name:        "http_client_request_duration_seconds",
			Help:        "A histogram of the http client request durations to IDP endpoints.",
			Buckets:     requestDurationBuckets,
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(HTTPClientRequestLabelMethod, HTTPClientRequestLabelURL,
			HTTPClientRequestLabelStatusCode, HTTPClientRequestLabelError),
	)
	tokenIntrospectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "token_introspections_total",
			Help:        "A counter of the token introspections done by the gateway, by status.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(TokenIntrospectionLabelStatus),
	)
	provisioningsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "provisionings_total",
			Help:        "A counter of the client provisionings, by channel and outcome.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(ProvisioningLabelChannel, ProvisioningLabelOutcome),
	)
	statementValidationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "statement_validations_total",
			Help:        "A counter of the software statement validations, by result.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(StatementValidationLabelResult),
	)

	makeCacheMetrics := func(name string) *lrucache.PrometheusMetrics {
		return lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
			Namespace:         PrometheusNamespace + "_" + name,
			ConstLabels:       PrometheusLabels(),
			CurriedLabelNames: curriedLabelNames,
		})
	}

	return &PrometheusMetrics{
		HTTPClientRequestDuration: httpClientReqDuration,
		TokenIntrospectionsTotal:  tokenIntrospectionsTotal,
		ProvisioningsTotal:        provisioningsTotal,
		StatementValidationsTotal: statementValidationsTotal,
		KeysCache:                 makeCacheMetrics("signing_keys"),
		TokenClaimsCache:          makeCacheMetrics("token_claims"),
		TokenNegativeCache:        makeCacheMetrics("token_negative"),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		HTTPClientRequestDuration: pm.HTTPClientRequestDuration.MustCurryWith(labels).(*prometheus.HistogramVec),
		TokenIntrospectionsTotal:  pm.TokenIntrospectionsTotal.MustCurryWith(labels),
		ProvisioningsTotal:        pm.ProvisioningsTotal.MustCurryWith(labels),
		StatementValidationsTotal: pm.StatementValidationsTotal.MustCurryWith(labels),
		KeysCache:                 pm.KeysCache.MustCurryWith(labels),
		TokenClaimsCache:          pm.TokenClaimsCache.MustCurryWith(labels),
		TokenNegativeCache:        pm.TokenNegativeCache.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.HTTPClientRequestDuration,
		pm.TokenIntrospectionsTotal,
		pm.ProvisioningsTotal,
		pm.StatementValidationsTotal,
	)
	pm.KeysCache.MustRegister()
	pm.TokenClaimsCache.MustRegister()
	pm.TokenNegativeCache.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.HTTPClientRequestDuration)
	prometheus.Unregister(pm.TokenIntrospectionsTotal)
	prometheus.Unregister(pm.ProvisioningsTotal)
	prometheus.Unregister(pm.StatementValidationsTotal)
	pm.KeysCache.Unregister()
	pm.TokenClaimsCache.Unregister()
	pm.TokenNegativeCache.Unregister()
}

func (pm *PrometheusMetrics) ObserveHTTPClientRequest(
	method string, targetURL string, statusCode int, elapsed time.Duration, errorType string,
) {
	pm.HTTPClientRequestDuration.With(prometheus.Labels{
		HTTPClientRequestLabelMethod:     method,
		HTTPClientRequestLabelURL:        targetURL,
		HTTPClientRequestLabelStatusCode: strconv.Itoa(statusCode),
		HTTPClientRequestLabelError:      errorType,
	}).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) IncTokenIntrospectionsTotal(status string) {
	pm.TokenIntrospectionsTotal.With(prometheus.Labels{TokenIntrospectionLabelStatus: status}).Inc()
}

func (pm *PrometheusMetrics) IncProvisioningsTotal(channel, outcome string) {
	pm.ProvisioningsTotal.With(prometheus.Labels{
		ProvisioningLabelChannel: channel,
		ProvisioningLabelOutcome: outcome,
	}).Inc()
}

func (pm *PrometheusMetrics) IncStatementValidationsTotal(result string) {
	pm.StatementValidationsTotal.With(prometheus.Labels{StatementValidationLabelResult: result}).Inc()
}
