/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package marketplace

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultRedirectURI is used for clients provisioned from events that carry no redirect URIs.
const DefaultRedirectURI = "https://vertexaisearch.cloud.google.com/oauth-redirect"

// ReasonUnknownFormat is the reason of events that have no known envelope.
const ReasonUnknownFormat = "Unknown format"

// ErrMissingOrderID is returned when none of the order ID extractors finds a value in the event.
var ErrMissingOrderID = errors.New("could not find orderId in event payload")

// ErrInvalidPayload is returned when the envelope data cannot be decoded into a JSON object.
var ErrInvalidPayload = errors.New("invalid event payload")

// EnvelopePaths are the locations of the base64 encoded event in a push message, in priority order.
var EnvelopePaths = []string{"message.data", "data"}

// OrderIDExtractor returns the order ID found in the event payload or an empty string.
type OrderIDExtractor func(payload gjson.Result) string

// FieldExtractor returns an OrderIDExtractor that reads the string at the gjson path.
func FieldExtractor(path string) OrderIDExtractor {
	return func(payload gjson.Result) string {
		v := payload.Get(path)
		if v.Type != gjson.String && v.Type != gjson.Number {
			return ""
		}
		return strings.TrimSpace(v.String())
	}
}

// DefaultOrderIDExtractors are tried in order, the first non-empty result wins.
var DefaultOrderIDExtractors = []OrderIDExtractor{
	FieldExtractor("entitlement.orderId"),
	FieldExtractor("account.orderId"),
	FieldExtractor("orderId"),
	FieldExtractor("id"),
	FieldExtractor("name"),
}

var redirectURIsPaths = []string{"redirectUris", "auth_app_redirect_uris"}

// Event is a marketplace event reduced to what provisioning needs.
type Event struct {
	OrderID      string
	RedirectURIs []string
	EventType    string

	// Ignored is true for messages of an unknown shape. Reason explains why.
	Ignored bool
	Reason  string
}

// AdapterOpts is a set of options for creating Adapter.
type AdapterOpts struct {
	// DefaultRedirectURIs are used when the event has no redirect URIs. Default: DefaultRedirectURI.
	DefaultRedirectURIs []string

	// OrderIDExtractors overrides DefaultOrderIDExtractors.
	OrderIDExtractors []OrderIDExtractor
}

// Adapter decodes push messages.
type Adapter struct {
	defaultRedirectURIs []string
	extractors          []OrderIDExtractor
}

// NewAdapter creates a new Adapter.
func NewAdapter(opts AdapterOpts) *Adapter {
	if len(opts.DefaultRedirectURIs) == 0 {
		opts.DefaultRedirectURIs = []string{DefaultRedirectURI}
	}
	if len(opts.OrderIDExtractors) == 0 {
		opts.OrderIDExtractors = DefaultOrderIDExtractors
	}
	return &Adapter{defaultRedirectURIs: opts.DefaultRedirectURIs, extractors: opts.OrderIDExtractors}
}

// IsEnvelope reports whether the JSON body has one of the known envelope paths.
func IsEnvelope(body []byte) bool {
	_, ok := findEnvelopeData(body)
	return ok
}

// Adapt decodes the push message body.
// An unknown envelope is not an error, the returned event is marked as ignored.
func (a *Adapter) Adapt(body []byte) (Event, error) {
	if !gjson.ValidBytes(body) {
		return Event{}, fmt.Errorf("%w: message is not valid JSON", ErrInvalidPayload)
	}
	data, ok := findEnvelopeData(body)
	if !ok {
		return Event{Ignored: true, Reason: ReasonUnknownFormat}, nil
	}
	if data.Type != gjson.String {
		return Event{}, fmt.Errorf("%w: envelope data is not a string", ErrInvalidPayload)
	}

	decoded, err := decodeBase64(data.Str)
	if err != nil {
		return Event{}, fmt.Errorf("%w: decode base64: %v", ErrInvalidPayload, err)
	}
	if !gjson.ValidBytes(decoded) {
		return Event{}, fmt.Errorf("%w: decoded data is not valid JSON", ErrInvalidPayload)
	}
	payload := gjson.ParseBytes(decoded)
	if !payload.IsObject() {
		return Event{}, fmt.Errorf("%w: decoded data is not a JSON object", ErrInvalidPayload)
	}

	event := Event{EventType: payload.Get("eventType").String()}
	for _, extract := range a.extractors {
		if event.OrderID = extract(payload); event.OrderID != "" {
			break
		}
	}
	if event.OrderID == "" {
		keys := make([]string, 0)
		payload.ForEach(func(key, _ gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		return event, fmt.Errorf("%w (keys: %s)", ErrMissingOrderID, strings.Join(keys, ", "))
	}

	event.RedirectURIs = redirectURIs(payload)
	if len(event.RedirectURIs) == 0 {
		event.RedirectURIs = append([]string(nil), a.defaultRedirectURIs...)
	}
	return event, nil
}

func findEnvelopeData(body []byte) (gjson.Result, bool) {
	for _, path := range EnvelopePaths {
		if v := gjson.GetBytes(body, path); v.Exists() {
			return v, true
		}
	}
	return gjson.Result{}, false
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding,
}

// decodeBase64 accepts both alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range base64Encodings {
		decoded, err := enc.DecodeString(s)
		if err == nil {
			return decoded, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func redirectURIs(payload gjson.Result) []string {
	for _, path := range redirectURIsPaths {
		v := payload.Get(path)
		if !v.IsArray() {
			continue
		}
		var uris []string
		for _, item := range v.Array() {
			if uri := strings.TrimSpace(item.String()); item.Type == gjson.String && uri != "" {
				uris = append(uris, uri)
			}
		}
		if len(uris) > 0 {
			return uris
		}
	}
	return nil
}
