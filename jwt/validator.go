/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	jwtgo "github.com/golang-jwt/jwt/v5"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
	"github.com/acronis/go-dcrkit/jwks"
)

// Default issuer settings of Google Cloud Marketplace software statements.
const (
	DefaultCertBaseURL       = "https://www.googleapis.com/service_accounts/v1/metadata/x509/"
	DefaultProductionIssuer  = DefaultCertBaseURL + "cloud-agentspace@system.gserviceaccount.com"
	DefaultExpectedAudience  = "https://google.com"
	validationResultValid    = "valid"
	validationResultKeyFetch = "key_fetch_error"
)

var validSigningMethods = []string{
	jwtgo.SigningMethodRS256.Alg(),
	jwtgo.SigningMethodRS384.Alg(),
	jwtgo.SigningMethodRS512.Alg(),
}

// KeyResolver resolves public signing keys published at a keys URL.
// jwks.CachingClient implements it.
type KeyResolver interface {
	GetKeys(ctx context.Context, keysURL string) (jwks.KeySet, error)
	InvalidateCache(ctx context.Context, keysURL string) (jwks.KeySet, error)
}

// IssuerPolicy describes which issuers may sign software statements.
type IssuerPolicy struct {
	// ProductionIssuer is always trusted. Its signing keys are published at the issuer URL itself.
	ProductionIssuer string

	// CertBaseURL is a prefix of the service account metadata URLs.
	// The test issuer is CertBaseURL + TestServiceAccount.
	CertBaseURL string

	// AllowTestIssuer enables the test issuer. It has effect only when TestServiceAccount is set.
	AllowTestIssuer bool

	// TestServiceAccount is the principal the test statements are signed by.
	TestServiceAccount string
}

// TrustedIssuers returns the allow-list computed from the policy.
func (p IssuerPolicy) TrustedIssuers() []string {
	issuers := make([]string, 0, 2)
	if p.ProductionIssuer != "" {
		issuers = append(issuers, p.ProductionIssuer)
	}
	if p.AllowTestIssuer && p.TestServiceAccount != "" {
		certBaseURL := p.CertBaseURL
		if certBaseURL == "" {
			certBaseURL = DefaultCertBaseURL
		}
		issuers = append(issuers, certBaseURL+p.TestServiceAccount)
	}
	return issuers
}

// StatementValidatorOpts contains options for StatementValidator.
type StatementValidatorOpts struct {
	// Issuers defines the issuer allow-list.
	Issuers IssuerPolicy

	// ExpectedAudience is a list of accepted audience values. Glob patterns are allowed.
	// The "aud" claim must be present and match at least one of them.
	ExpectedAudience []string

	// Leeway is an allowed clock skew for the time based claims.
	Leeway time.Duration

	// Logger is a logger for the validator.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a request-scoped logger.
	// If it's not set or returns nil, Logger is used.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// StatementValidator verifies software statements.
// The issuer is checked before any network call, so statements of unknown issuers never cause key fetches.
type StatementValidator struct {
	keyResolver        KeyResolver
	trustedIssuerStore *idputil.TrustedIssuerStore
	audienceValidator  *AudienceValidator
	parser             *jwtgo.Parser
	logger             log.FieldLogger
	loggerProvider     func(ctx context.Context) log.FieldLogger
	promMetrics        *metrics.PrometheusMetrics
}

// NewStatementValidator creates a new StatementValidator.
func NewStatementValidator(keyResolver KeyResolver, opts StatementValidatorOpts) (*StatementValidator, error) {
	parserOpts := []jwtgo.ParserOption{
		jwtgo.WithValidMethods(validSigningMethods),
		jwtgo.WithExpirationRequired(),
		jwtgo.WithIssuedAt(),
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwtgo.WithLeeway(opts.Leeway))
	}
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceStatementValidator)
	v := &StatementValidator{
		keyResolver:        keyResolver,
		trustedIssuerStore: idputil.NewTrustedIssuerStore(),
		audienceValidator:  NewAudienceValidator(opts.ExpectedAudience),
		parser:             jwtgo.NewParser(parserOpts...),
		logger:             idputil.PrepareLogger(opts.Logger),
		loggerProvider:     opts.LoggerProvider,
		promMetrics:        promMetrics,
	}
	for _, issuer := range opts.Issuers.TrustedIssuers() {
		if err := v.AddTrustedIssuer(issuer, ""); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// AddTrustedIssuer adds an issuer to the allow-list.
// Empty keysURL means the signing keys are published at the issuer URL.
func (v *StatementValidator) AddTrustedIssuer(issuer, keysURL string) error {
	return v.trustedIssuerStore.AddTrustedIssuer(issuer, keysURL)
}

// TrustedIssuers returns the sorted allow-list.
func (v *StatementValidator) TrustedIssuers() []string {
	return v.trustedIssuerStore.Issuers()
}

// Validate verifies the software statement and returns its claims.
// Rejections are *ValidationError. Failures to obtain the signing keys are returned as *jwks.KeyFetchError.
func (v *StatementValidator) Validate(ctx context.Context, token string) (*SoftwareStatementClaims, error) {
	claims, err := v.validate(ctx, token)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			v.promMetrics.IncStatementValidationsTotal(validationResultLabel(validationErr.Kind))
		} else {
			v.promMetrics.IncStatementValidationsTotal(validationResultKeyFetch)
		}
		return nil, err
	}
	v.promMetrics.IncStatementValidationsTotal(validationResultValid)
	return claims, nil
}

func (v *StatementValidator) validate(ctx context.Context, token string) (*SoftwareStatementClaims, error) {
	logger := v.logger
	if v.loggerProvider != nil {
		logger = idputil.GetLoggerFromProvider(ctx, v.loggerProvider)
	}

	unverifiedClaims := &SoftwareStatementClaims{}
	unverifiedToken, _, err := v.parser.ParseUnverified(token, unverifiedClaims)
	if err != nil {
		return nil, newValidationError(ErrMalformedToken, err)
	}
	keyID, _ := unverifiedToken.Header["kid"].(string)
	if keyID == "" {
		return nil, newValidationError(ErrMalformedToken, errors.New(`"kid" header is missing`))
	}
	if unverifiedClaims.Issuer == "" {
		return nil, newValidationError(ErrMalformedToken, errors.New(`"iss" claim is missing`))
	}

	keysURL, ok := v.trustedIssuerStore.GetKeysURLForIssuer(unverifiedClaims.Issuer)
	if !ok {
		logger.Warn(fmt.Sprintf("software statement from untrusted issuer %q rejected", unverifiedClaims.Issuer))
		return nil, newValidationError(ErrUntrustedIssuer, &IssuerUntrustedError{Issuer: unverifiedClaims.Issuer})
	}

	pubKey, err := v.resolveKey(ctx, keysURL, keyID)
	if err != nil {
		return nil, err
	}

	claims := &SoftwareStatementClaims{}
	if _, err = v.parser.ParseWithClaims(token, claims, func(_ *jwtgo.Token) (interface{}, error) {
		return pubKey, nil
	}); err != nil {
		return nil, newValidationError(classifyParseError(err), err)
	}
	if err = v.audienceValidator.Validate(claims); err != nil {
		return nil, newValidationError(ErrAudienceMismatch, err)
	}
	claims.KeyID = keyID

	logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		logFunc(fmt.Sprintf("software statement verified (iss: %s, kid: %s, order: %s)",
			claims.Issuer, keyID, claims.OrderID()))
	})
	return claims, nil
}

// resolveKey finds the signing key, the key set is refetched exactly once if the kid is not in it.
func (v *StatementValidator) resolveKey(ctx context.Context, keysURL, keyID string) (interface{}, error) {
	keySet, err := v.keyResolver.GetKeys(ctx, keysURL)
	if err != nil {
		return nil, err
	}
	if pubKey, ok := keySet.Keys[keyID]; ok {
		return pubKey, nil
	}
	if keySet, err = v.keyResolver.InvalidateCache(ctx, keysURL); err != nil {
		return nil, err
	}
	if pubKey, ok := keySet.Keys[keyID]; ok {
		return pubKey, nil
	}
	return nil, newValidationError(ErrUnknownKeyID, &jwks.KeyNotFoundError{KeysURL: keysURL, KeyID: keyID})
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwtgo.ErrTokenMalformed), errors.Is(err, jwtgo.ErrTokenRequiredClaimMissing):
		return ErrMalformedToken
	case errors.Is(err, jwtgo.ErrTokenExpired),
		errors.Is(err, jwtgo.ErrTokenNotValidYet),
		errors.Is(err, jwtgo.ErrTokenUsedBeforeIssued):
		return ErrTokenExpired
	default:
		return ErrSignatureInvalid
	}
}

func validationResultLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(kind, ErrUntrustedIssuer):
		return "untrusted_issuer"
	case errors.Is(kind, ErrUnknownKeyID):
		return "unknown_key_id"
	case errors.Is(kind, ErrTokenExpired):
		return "token_expired"
	case errors.Is(kind, ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "signature_invalid"
	}
}
