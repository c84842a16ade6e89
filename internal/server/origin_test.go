package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpgraderOrigins(t *testing.T) {
	cases := map[string]struct {
		allowed []string
		origin  string
		ok      bool
	}{
		"default dev ui":           {nil, "http://localhost:3000", true},
		"default vite":             {nil, "http://localhost:5173", true},
		"default rejects others":   {nil, "http://localhost:8080", false},
		"default rejects external": {nil, "https://evil.example.com", false},
		"wildcard":                 {[]string{"*"}, "https://anything.example.com", true},
		"configured match":         {[]string{"https://intel.example.com"}, "https://intel.example.com", true},
		"configured mismatch":      {[]string{"https://intel.example.com"}, "https://evil.example.com", false},
		"case folded":              {[]string{"https://Intel.Example.com"}, "https://intel.example.com", true},
		"cli clients send none":    {nil, "", true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/investigations/abc", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.ok, newUpgrader(tc.allowed).CheckOrigin(r))
		})
	}
}
