/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package jwks_test

import "encoding/json"

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
