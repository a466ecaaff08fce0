/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package api

import (
	"errors"
	"net/http"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/acronis/go-dcrkit/dcr"
	"github.com/acronis/go-dcrkit/jwks"
	"github.com/acronis/go-dcrkit/jwt"
	"github.com/acronis/go-dcrkit/marketplace"
	"github.com/acronis/go-dcrkit/provisioning"
)

// Error messages of the responses.
// We are using "var" here because some services may want to use different messages.
var (
	ErrMessageInvalidJSON          = "Invalid JSON body"
	ErrMessageInvalidStatement     = "JWT validation failed"
	ErrMessageMissingOrderID       = "Missing order id"
	ErrMessageMissingRedirectURIs  = "Missing redirect uris"
	ErrMessageOrderNotFound        = "Invalid Order ID: Order not found in client records."
	ErrMessageKeysUnavailable      = "Signing keys are unavailable"
	ErrMessageRegistrationFailed   = "Client registration failed"
	ErrMessageEventFailed          = "Event processing failed"
	ErrMessageInternal             = "Internal server error"
	ErrMessageMethodNotAllowed     = "Method not allowed"
	ErrMessageRequestBodyTooLarge  = "Request body is too large"
	ErrMessageMissingAuthorization = "Missing or invalid Authorization header"
)

// ErrorResponse is the body of all error responses.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// RespondError sends the error response with the given status code.
func RespondError(rw http.ResponseWriter, statusCode int, message, detail string, logger log.FieldLogger) {
	restapi.RespondCodeAndJSON(rw, statusCode, ErrorResponse{Error: message, Detail: detail}, logger)
}

// StatusForError maps an error of the provisioning flows to the response status code and message.
func StatusForError(err error) (statusCode int, message string) {
	var validationErr *jwt.ValidationError
	var keyFetchErr *jwks.KeyFetchError
	var regErr *dcr.RegistrationFailedError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, ErrMessageInvalidStatement
	case errors.As(err, &keyFetchErr):
		return http.StatusInternalServerError, ErrMessageKeysUnavailable
	case errors.Is(err, provisioning.ErrMissingOrderID), errors.Is(err, marketplace.ErrMissingOrderID):
		return http.StatusBadRequest, ErrMessageMissingOrderID
	case errors.Is(err, provisioning.ErrMissingRedirectURIs):
		return http.StatusBadRequest, ErrMessageMissingRedirectURIs
	case errors.Is(err, provisioning.ErrOrderNotFound):
		return http.StatusBadRequest, ErrMessageOrderNotFound
	case errors.As(err, &regErr):
		return http.StatusInternalServerError, ErrMessageRegistrationFailed
	case errors.Is(err, marketplace.ErrInvalidPayload):
		return http.StatusInternalServerError, ErrMessageEventFailed
	}
	return http.StatusInternalServerError, ErrMessageInternal
}

// RespondProvisioningError logs the error and sends the response chosen by StatusForError.
func RespondProvisioningError(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	statusCode, message := StatusForError(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error(message, log.Error(err))
	} else {
		logger.Warn(message, log.Error(err))
	}
	RespondError(rw, statusCode, message, err.Error(), logger)
}
