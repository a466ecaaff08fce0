/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package strutil

import (
	"encoding/json"
	"unsafe"
)

// StringToBytesUnsafe converts string to byte slice without memory allocation.
func StringToBytesUnsafe(s string) []byte {
	// nolint: gosec // memory optimization to prevent redundant slice copying
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

const maskedSuffix = "****"

// maskVisiblePrefixLen is a number of leading characters that stay visible when a secret is long enough.
const maskVisiblePrefixLen = 4

// MaskSecret returns a representation of a secret value that is safe to put in logs.
// Secrets shorter than 12 characters are fully masked.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) < 3*maskVisiblePrefixLen {
		return maskedSuffix
	}
	return s[:maskVisiblePrefixLen] + maskedSuffix
}

// Secret is a string that never shows its full value when it is formatted.
// JSON encoding keeps the value intact, so it may be persisted and returned to the owner.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	return MaskSecret(string(s))
}

// GoString implements fmt.GoStringer, so %#v is masked too.
func (s Secret) GoString() string {
	return `"` + MaskSecret(string(s)) + `"`
}

// Reveal returns the plain value.
func (s Secret) Reveal() string {
	return string(s)
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
