/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/dcr"
	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/internal/metrics"
	"github.com/acronis/go-dcrkit/jwt"
	"github.com/acronis/go-dcrkit/registration"
)

// ErrMissingOrderID is returned when the order ID cannot be determined.
var ErrMissingOrderID = errors.New("order id is missing")

// ErrMissingRedirectURIs is returned when no redirect URIs are provided for a new client.
var ErrMissingRedirectURIs = errors.New("redirect uris are missing")

// ErrOrderNotFound is returned by Provision when known orders are required and the order was never provisioned.
var ErrOrderNotFound = errors.New("order is not known")

// StatementValidator verifies software statements.
type StatementValidator interface {
	Validate(ctx context.Context, token string) (*jwt.SoftwareStatementClaims, error)
}

// Result is the outcome of a successful provisioning.
type Result struct {
	Registration registration.Registration

	// Created is true when a new OAuth client was registered by this call.
	Created bool
}

// OrchestratorOpts is a set of options for creating Orchestrator.
type OrchestratorOpts struct {
	// RequireKnownOrder makes Provision refuse orders that have no registration yet,
	// so clients are created only by the marketplace event channel.
	RequireKnownOrder bool

	// Logger is a logger for the Orchestrator.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a request-scoped logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	PrometheusLibInstanceLabel string
}

// Orchestrator finds or creates the registration of an order.
// Concurrent calls for the same order are serialized within the process,
// across processes the store's insert-if-absent semantics decide the winner.
type Orchestrator struct {
	validator         StatementValidator
	registrar         dcr.Registrar
	store             registration.Store
	locks             *registration.KeyedMutex
	requireKnownOrder bool
	logger            log.FieldLogger
	loggerProvider    func(ctx context.Context) log.FieldLogger
	promMetrics       *metrics.PrometheusMetrics
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	validator StatementValidator, registrar dcr.Registrar, store registration.Store, opts OrchestratorOpts,
) *Orchestrator {
	return &Orchestrator{
		validator:         validator,
		registrar:         registrar,
		store:             store,
		locks:             registration.NewKeyedMutex(),
		requireKnownOrder: opts.RequireKnownOrder,
		logger:            idputil.PrepareLogger(opts.Logger),
		loggerProvider:    opts.LoggerProvider,
		promMetrics:       metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceProvisioning),
	}
}

// Provision verifies the software statement and returns the registration of its order.
// Statement validation errors are returned as is.
func (o *Orchestrator) Provision(ctx context.Context, statement string) (Result, error) {
	claims, err := o.validator.Validate(ctx, statement)
	if err != nil {
		o.promMetrics.IncProvisioningsTotal(metrics.ProvisioningChannelStatement, metrics.ProvisioningOutcomeFailed)
		return Result{}, err
	}
	orderID := claims.OrderID()
	if orderID == "" {
		o.promMetrics.IncProvisioningsTotal(metrics.ProvisioningChannelStatement, metrics.ProvisioningOutcomeFailed)
		return Result{}, fmt.Errorf("%w: google.order claim is empty", ErrMissingOrderID)
	}
	if len(claims.AuthAppRedirectURIs) == 0 {
		o.promMetrics.IncProvisioningsTotal(metrics.ProvisioningChannelStatement, metrics.ProvisioningOutcomeFailed)
		return Result{}, fmt.Errorf("%w: auth_app_redirect_uris claim is empty", ErrMissingRedirectURIs)
	}
	return o.findOrCreate(ctx, metrics.ProvisioningChannelStatement, orderID, claims.AuthAppRedirectURIs, !o.requireKnownOrder)
}

// ProvisionFromEvent returns the registration of the order delivered by the marketplace event channel.
// The event is trusted, no statement is verified.
func (o *Orchestrator) ProvisionFromEvent(ctx context.Context, orderID string, redirectURIs []string) (Result, error) {
	if orderID == "" {
		o.promMetrics.IncProvisioningsTotal(metrics.ProvisioningChannelEvent, metrics.ProvisioningOutcomeFailed)
		return Result{}, ErrMissingOrderID
	}
	if len(redirectURIs) == 0 {
		o.promMetrics.IncProvisioningsTotal(metrics.ProvisioningChannelEvent, metrics.ProvisioningOutcomeFailed)
		return Result{}, ErrMissingRedirectURIs
	}
	return o.findOrCreate(ctx, metrics.ProvisioningChannelEvent, orderID, redirectURIs, true)
}

func (o *Orchestrator) findOrCreate(
	ctx context.Context, channel, orderID string, redirectURIs []string, allowCreate bool,
) (res Result, err error) {
	defer func() {
		outcome := metrics.ProvisioningOutcomeExisting
		switch {
		case err != nil:
			outcome = metrics.ProvisioningOutcomeFailed
		case res.Created:
			outcome = metrics.ProvisioningOutcomeCreated
		}
		o.promMetrics.IncProvisioningsTotal(channel, outcome)
	}()

	logger := o.logger
	if o.loggerProvider != nil {
		logger = idputil.GetLoggerFromProvider(ctx, o.loggerProvider)
	}

	unlock, err := o.locks.LockContext(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("wait for registration of order %s: %w", orderID, err)
	}
	defer unlock()

	reg, err := o.store.FindByOrderID(ctx, orderID)
	if err == nil {
		logger.Info(fmt.Sprintf("order %s already has OAuth client %s", orderID, reg.ClientID))
		return Result{Registration: reg}, nil
	}
	if !errors.Is(err, registration.ErrNotFound) {
		return Result{}, fmt.Errorf("find registration for order %s: %w", orderID, err)
	}
	if !allowCreate {
		return Result{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	creds, err := o.registrar.Register(ctx, orderID, redirectURIs)
	if err != nil {
		return Result{}, fmt.Errorf("register OAuth client for order %s: %w", orderID, err)
	}
	reg = registration.Registration{OrderID: orderID, ClientID: creds.ClientID, ClientSecret: creds.ClientSecret}

	if err = o.store.Save(ctx, reg); err != nil {
		if !errors.Is(err, registration.ErrAlreadyExists) {
			logger.Error(fmt.Sprintf("OAuth client %s is registered for order %s but was not saved", reg.ClientID, orderID),
				log.Error(err))
			return Result{}, fmt.Errorf("save registration for order %s: %w", orderID, err)
		}
		existing, findErr := o.store.FindByOrderID(ctx, orderID)
		if findErr != nil {
			return Result{}, fmt.Errorf("find registration for order %s after conflict: %w", orderID, findErr)
		}
		logger.Error(fmt.Sprintf("order %s was provisioned concurrently, OAuth client %s is orphaned, using %s",
			orderID, reg.ClientID, existing.ClientID))
		return Result{Registration: existing}, nil
	}

	logger.Info(fmt.Sprintf("order %s is provisioned with OAuth client %s", orderID, reg.ClientID))
	return Result{Registration: reg, Created: true}, nil
}
