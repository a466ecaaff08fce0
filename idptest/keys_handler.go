/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/acronis/go-dcrkit/internal/jwk"
)

// KeysFormat defines how KeysHandler encodes public keys.
type KeysFormat int

const (
	// KeysFormatX509 encodes keys as a map from key ID to PEM certificate,
	// the way Google publishes service account keys.
	KeysFormatX509 KeysFormat = iota

	// KeysFormatJWKS encodes keys as a JWKS document.
	KeysFormatJWKS
)

// DefaultKeysCacheControl is the Cache-Control header value KeysHandler responds with by default.
const DefaultKeysCacheControl = "public, max-age=3600, must-revalidate, no-transform"

// KeysHandler is an HTTP handler that responds with public signing keys.
// By default, it serves the pre-defined test key (TestKeyID).
type KeysHandler struct {
	servedCount atomic.Uint64

	mu           sync.RWMutex
	format       KeysFormat
	keys         map[string]*rsa.PublicKey
	certs        map[string]string
	cacheControl string
	statusCode   int
}

// NewKeysHandler creates a new KeysHandler with the pre-defined test key.
func NewKeysHandler(format KeysFormat) *KeysHandler {
	h := &KeysHandler{format: format, cacheControl: DefaultKeysCacheControl}
	h.keys = map[string]*rsa.PublicKey{TestKeyID: &GetTestRSAPrivateKey().PublicKey}
	h.certs = map[string]string{TestKeyID: GetTestCertificatePEM()}
	return h
}

// SetKeys replaces the served keys. Keys are stored by key ID.
func (h *KeysHandler) SetKeys(privKeys map[string]*rsa.PrivateKey) {
	keys := make(map[string]*rsa.PublicKey, len(privKeys))
	certs := make(map[string]string, len(privKeys))
	for kid, privKey := range privKeys {
		keys[kid] = &privKey.PublicKey
		if privKey == GetTestRSAPrivateKey() {
			certs[kid] = GetTestCertificatePEM()
		} else {
			certs[kid] = MustMakeCertificatePEM(privKey)
		}
	}
	h.mu.Lock()
	h.keys, h.certs = keys, certs
	h.mu.Unlock()
}

// SetCacheControl sets the Cache-Control header value. Empty value means no header.
func (h *KeysHandler) SetCacheControl(cacheControl string) {
	h.mu.Lock()
	h.cacheControl = cacheControl
	h.mu.Unlock()
}

// SetStatusCode makes the handler respond with the given code and no keys. Zero restores normal behavior.
func (h *KeysHandler) SetStatusCode(code int) {
	h.mu.Lock()
	h.statusCode = code
	h.mu.Unlock()
}

func (h *KeysHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.statusCode != 0 && h.statusCode != http.StatusOK {
		http.Error(rw, http.StatusText(h.statusCode), h.statusCode)
		return
	}

	var resp interface{}
	switch h.format {
	case KeysFormatJWKS:
		set := jwk.Set{Keys: make([]jwk.Key, 0, len(h.keys))}
		for kid, pubKey := range h.keys {
			set.Keys = append(set.Keys, jwk.NewPublicKey(kid, pubKey))
		}
		resp = set
	default:
		resp = h.certs
	}

	rw.Header().Set("Content-Type", "application/json")
	if h.cacheControl != "" {
		rw.Header().Set("Cache-Control", h.cacheControl)
	}
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
		return
	}
}

// ServedCount returns the number of times the handler has been served.
func (h *KeysHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *KeysHandler) ResetServedCount() {
	h.servedCount.Store(0)
}
