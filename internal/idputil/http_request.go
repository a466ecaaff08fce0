/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/acronis/go-dcrkit/internal/metrics"
)

// DefaultMaxResponseBodySize limits how much of an IdP response is read into memory.
const DefaultMaxResponseBodySize = 1 << 20 // 1 MiB

const ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

const ContentTypeJSON = "application/json"

// Response is an IdP response with the fully read (and size-limited) body.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DoRequest sends the request, reads the response body and observes the request duration.
// Only transport and body read errors are returned, a non-2xx status code is not an error here.
func DoRequest(
	ctx context.Context,
	httpClient *http.Client,
	req *http.Request,
	logger log.FieldLogger,
	promMetrics *metrics.PrometheusMetrics,
) (*Response, error) {
	targetURL := req.URL.String()

	startTime := time.Now()
	resp, err := httpClient.Do(req.WithContext(ctx))
	elapsed := time.Since(startTime)
	if err != nil {
		promMetrics.ObserveHTTPClientRequest(req.Method, targetURL, 0, elapsed, metrics.HTTPRequestErrorDo)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeBodyErr := resp.Body.Close(); closeBodyErr != nil {
			logger.Error(fmt.Sprintf("closing response body error for %s %s", req.Method, targetURL), log.Error(closeBodyErr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxResponseBodySize))
	if err != nil {
		promMetrics.ObserveHTTPClientRequest(req.Method, targetURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorReadBody)
		return nil, fmt.Errorf("read response body: %w", err)
	}

	errType := ""
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errType = metrics.HTTPRequestErrorUnexpectedStatusCode
	}
	promMetrics.ObserveHTTPClientRequest(req.Method, targetURL, resp.StatusCode, elapsed, errType)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DecodeJSON unmarshals the response body into dst.
func (r *Response) DecodeJSON(dst interface{}) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("decode response body json: %w", err)
	}
	return nil
}

// UnexpectedStatusError converts the response into UnexpectedResponseError.
func (r *Response) UnexpectedStatusError(req *http.Request) *UnexpectedResponseError {
	return &UnexpectedResponseError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: r.StatusCode,
		Header:     r.Header,
		Body:       r.Body,
	}
}
