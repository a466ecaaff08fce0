/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// UnexpectedResponseError is returned when the IdP answers with an unexpected HTTP status code.
// The response headers and body are kept for the caller.
type UnexpectedResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *UnexpectedResponseError) Error() string {
	msg := fmt.Sprintf("unexpected HTTP status code %d for %s %s", e.StatusCode, e.Method, e.URL)
	if code := e.ErrorCode(); code != "" {
		msg += " (" + code + ")"
	}
	return msg
}

// ErrorCode returns the error code from the response body.
// Both OAuth 2.0 ("error") and Okta management API ("errorCode") bodies are recognized.
func (e *UnexpectedResponseError) ErrorCode() string {
	if !gjson.ValidBytes(e.Body) {
		return ""
	}
	res := gjson.GetManyBytes(e.Body, "error", "errorCode")
	for i := range res {
		if res[i].Type == gjson.String && res[i].Str != "" {
			return res[i].Str
		}
	}
	return ""
}
