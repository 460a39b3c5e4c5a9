package chaosdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DiscoverDomain(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       []string
		wantErrMsg string
	}{
		{
			name:   "labels are qualified",
			status: http.StatusOK,
			body:   `{"domain":"example.com","subdomains":["www","api.v2",""],"count":3}`,
			want:   []string{"www.example.com", "api.v2.example.com"},
		},
		{
			name:       "api error message",
			status:     http.StatusUnauthorized,
			body:       `{"error":"unauthorized","message":"invalid key"}`,
			wantErrMsg: "invalid key",
		},
		{
			name:       "bare status",
			status:     http.StatusServiceUnavailable,
			body:       `oops`,
			wantErrMsg: "status 503",
		},
		{
			name:       "malformed body",
			status:     http.StatusOK,
			body:       `{"subdomains":`,
			wantErrMsg: "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/dns/example.com/subdomains", r.URL.Path)
				assert.Equal(t, "secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(&ClientConfig{
				APIKey:     "secret",
				BaseURL:    server.URL + "/dns/",
				RateLimit:  60,
				Timeout:    5 * time.Second,
				RetryDelay: 10 * time.Millisecond,
			})
			defer client.Close()

			result, err := client.DiscoverDomain(context.Background(), "https://Example.com/")
			if tt.wantErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrMsg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "example.com", result.Domain)
			assert.Equal(t, tt.want, result.Subdomains)
			assert.Equal(t, len(tt.want), result.Count)
		})
	}
}

func TestClient_Name(t *testing.T) {
	client := NewClient(&ClientConfig{RateLimit: 1, Timeout: time.Second})
	defer client.Close()

	assert.Equal(t, SourceName, client.Name())
}
