/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnexpectedResponseError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "oauth error",
			body:     `{"error":"invalid_client","error_description":"Client authentication failed."}`,
			wantCode: "invalid_client",
			wantMsg:  "unexpected HTTP status code 401 for POST https://idp.example.com/oauth2/v1/token (invalid_client)",
		},
		{
			name:     "okta error",
			body:     `{"errorCode":"E0000011","errorSummary":"Invalid token provided"}`,
			wantCode: "E0000011",
			wantMsg:  "unexpected HTTP status code 401 for POST https://idp.example.com/oauth2/v1/token (E0000011)",
		},
		{
			name:    "not json",
			body:    `<html>Bad Gateway</html>`,
			wantMsg: "unexpected HTTP status code 401 for POST https://idp.example.com/oauth2/v1/token",
		},
		{
			name:    "empty body",
			wantMsg: "unexpected HTTP status code 401 for POST https://idp.example.com/oauth2/v1/token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &UnexpectedResponseError{
				Method:     http.MethodPost,
				URL:        "https://idp.example.com/oauth2/v1/token",
				StatusCode: http.StatusUnauthorized,
				Body:       []byte(tt.body),
			}
			require.Equal(t, tt.wantCode, err.ErrorCode())
			require.EqualError(t, err, tt.wantMsg)
		})
	}
}
