/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"
	"github.com/tidwall/gjson"

	"github.com/acronis/go-dcrkit/internal/idputil"
	"github.com/acronis/go-dcrkit/marketplace"
	"github.com/acronis/go-dcrkit/provisioning"
)

// MaxRequestBodySize limits the size of POST /dcr bodies.
const MaxRequestBodySize = 1 << 20 // 1 MiB

// Event statuses of the push message responses.
const (
	EventStatusSuccess = "success"
	EventStatusIgnored = "ignored"
)

const softwareStatementField = "software_statement"

// Provisioner finds or creates OAuth clients for orders. provisioning.Orchestrator implements it.
type Provisioner interface {
	Provision(ctx context.Context, statement string) (provisioning.Result, error)
	ProvisionFromEvent(ctx context.Context, orderID string, redirectURIs []string) (provisioning.Result, error)
}

// EventAdapter decodes marketplace push messages. marketplace.Adapter implements it.
type EventAdapter interface {
	Adapt(body []byte) (marketplace.Event, error)
}

// ClientResponse is the response to a successful registration request.
type ClientResponse struct {
	ClientID              string `json:"client_id"`
	ClientSecret          string `json:"client_secret"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at"`
}

// EventResponse is the response to a push message.
type EventResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// DCRHandlerOpts is a set of options for creating DCRHandler.
type DCRHandlerOpts struct {
	// LoggerProvider is a function that provides a request-scoped logger.
	// Default: middleware.GetLoggerFromContext.
	LoggerProvider func(ctx context.Context) log.FieldLogger
}

// DCRHandler serves POST /dcr.
type DCRHandler struct {
	provisioner    Provisioner
	eventAdapter   EventAdapter
	loggerProvider func(ctx context.Context) log.FieldLogger
}

// NewDCRHandler creates a new DCRHandler.
func NewDCRHandler(provisioner Provisioner, eventAdapter EventAdapter, opts DCRHandlerOpts) *DCRHandler {
	if opts.LoggerProvider == nil {
		opts.LoggerProvider = middleware.GetLoggerFromContext
	}
	return &DCRHandler{provisioner: provisioner, eventAdapter: eventAdapter, loggerProvider: opts.LoggerProvider}
}

func (h *DCRHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		RespondError(rw, http.StatusMethodNotAllowed, ErrMessageMethodNotAllowed, "", logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, MaxRequestBodySize))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			RespondError(rw, http.StatusRequestEntityTooLarge, ErrMessageRequestBodyTooLarge, "", logger)
			return
		}
		RespondError(rw, http.StatusBadRequest, ErrMessageInvalidJSON, err.Error(), logger)
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		logger.Warn(fmt.Sprintf("POST /dcr body is not a JSON object (%d bytes)", len(body)))
		RespondError(rw, http.StatusBadRequest, ErrMessageInvalidJSON, "", logger)
		return
	}

	if statement := gjson.GetBytes(body, softwareStatementField); statement.Exists() {
		h.serveRegistration(rw, r, statement, logger)
		return
	}
	h.serveEvent(rw, r, body, logger)
}

func (h *DCRHandler) serveRegistration(rw http.ResponseWriter, r *http.Request, statement gjson.Result, logger log.FieldLogger) {
	if statement.Type != gjson.String || statement.Str == "" {
		RespondError(rw, http.StatusBadRequest, ErrMessageInvalidStatement,
			softwareStatementField+" should be a non-empty string", logger)
		return
	}

	res, err := h.provisioner.Provision(r.Context(), statement.Str)
	if err != nil {
		RespondProvisioningError(rw, err, logger)
		return
	}
	logger.Info(fmt.Sprintf("registration request for order %s served with client %s (created: %t)",
		res.Registration.OrderID, res.Registration.ClientID, res.Created))
	restapi.RespondJSON(rw, ClientResponse{
		ClientID:     res.Registration.ClientID,
		ClientSecret: res.Registration.ClientSecret.Reveal(),
	}, logger)
}

func (h *DCRHandler) serveEvent(rw http.ResponseWriter, r *http.Request, body []byte, logger log.FieldLogger) {
	event, err := h.eventAdapter.Adapt(body)
	if err != nil {
		RespondProvisioningError(rw, err, logger)
		return
	}
	if event.Ignored {
		logger.Warn(fmt.Sprintf("marketplace message ignored: %s", event.Reason))
		restapi.RespondJSON(rw, EventResponse{Status: EventStatusIgnored, Reason: event.Reason}, logger)
		return
	}

	logger.Info(fmt.Sprintf("marketplace event %q for order %s", event.EventType, event.OrderID))
	res, err := h.provisioner.ProvisionFromEvent(r.Context(), event.OrderID, event.RedirectURIs)
	if err != nil {
		RespondProvisioningError(rw, err, logger)
		return
	}
	restapi.RespondJSON(rw, EventResponse{Status: EventStatusSuccess, OrderID: res.Registration.OrderID}, logger)
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthHandler serves GET /healthz.
func HealthHandler(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), middleware.GetLoggerFromContext)
	restapi.RespondJSON(rw, HealthResponse{Status: "ok"}, logger)
}

// NewRouter returns a router with the DCR and health endpoints.
func NewRouter(dcrHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/dcr", dcrHandler)
	mux.HandleFunc("/healthz", HealthHandler)
	return mux
}
