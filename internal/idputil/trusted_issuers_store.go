/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// TrustedIssuerStore is an allow-list of issuers.
// Every issuer is mapped to the URL its signing keys are published at.
// Issuers are compared as exact strings, no normalization is done.
type TrustedIssuerStore struct {
	mu      sync.RWMutex
	issuers map[string]string
}

func NewTrustedIssuerStore() *TrustedIssuerStore {
	return &TrustedIssuerStore{
		issuers: make(map[string]string),
	}
}

// AddTrustedIssuer adds the issuer with its keys URL. Empty keysURL means the issuer URL serves the keys itself.
func (s *TrustedIssuerStore) AddTrustedIssuer(issuer, keysURL string) error {
	if issuer == "" {
		return fmt.Errorf("issuer is empty")
	}
	if keysURL == "" {
		keysURL = issuer
	}
	parsedURL, err := url.Parse(keysURL)
	if err != nil {
		return fmt.Errorf("parse keys URL for issuer %q: %w", issuer, err)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return fmt.Errorf("keys URL for issuer %q should be HTTP(S)", issuer)
	}
	s.mu.Lock()
	s.issuers[issuer] = keysURL
	s.mu.Unlock()
	return nil
}

// GetKeysURLForIssuer returns the keys URL if the issuer is trusted.
func (s *TrustedIssuerStore) GetKeysURLForIssuer(issuer string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keysURL, ok := s.issuers[issuer]
	return keysURL, ok
}

// Issuers returns the sorted list of trusted issuers.
func (s *TrustedIssuerStore) Issuers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.issuers))
	for iss := range s.issuers {
		res = append(res, iss)
	}
	sort.Strings(res)
	return res
}
