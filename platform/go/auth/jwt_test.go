package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractJWTToken(t *testing.T) {
	testCases := []struct {
		name   string
		header string
		token  string
		found  bool
	}{
		{name: "bearer", header: "Bearer abc.def", token: "abc.def", found: true},
		{name: "case insensitive", header: "bearer   abc", token: "abc", found: true},
		{name: "basic auth", header: "Basic Zm9vOmJhcg==", found: false},
		{name: "missing", header: "", found: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			token, found := ExtractJWTToken(r)
			require.Equal(t, tc.found, found)
			require.Equal(t, tc.token, token)
		})
	}
}
