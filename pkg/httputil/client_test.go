package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	merrors "github.com/matzehuels/masonry/pkg/errors"
)

func newTestClient(t *testing.T, server *httptest.Server, headers map[string]string) *Client {
	t.Helper()
	client := NewClient(headers)
	if server != nil {
		client.SetHTTPClient(server.Client())
	}
	return client
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(nil)
	if client.http == nil {
		t.Fatal("http client is nil")
	}
	if client.http.Timeout != httpTimeout {
		t.Errorf("timeout = %v, want %v", client.http.Timeout, httpTimeout)
	}
}

func TestClientGet(t *testing.T) {
	type response struct {
		Message string `json:"message"`
	}

	var requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		requestID = r.Header.Get("X-Request-ID")
		json.NewEncoder(w).Encode(response{Message: "hello"})
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	var resp response
	if err := client.Get(context.Background(), server.URL, &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("Get() message = %q, want %q", resp.Message, "hello")
	}
	if len(requestID) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", requestID)
	}
}

func TestClientGetWithHeadersOverridesDefaults(t *testing.T) {
	var received, def string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("X-Override")
		def = r.Header.Get("X-Default")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer server.Close()

	client := newTestClient(t, server, map[string]string{"X-Override": "default", "X-Default": "kept"})

	var resp map[string]string
	err := client.GetWithHeaders(context.Background(), server.URL, map[string]string{"X-Override": "overridden"}, &resp)
	if err != nil {
		t.Fatalf("GetWithHeaders() error: %v", err)
	}
	if received != "overridden" {
		t.Errorf("header = %q, want %q", received, "overridden")
	}
	if def != "kept" {
		t.Errorf("default header = %q, want %q", def, "kept")
	}
}

func TestClientGet404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	var resp map[string]string
	err := client.Get(context.Background(), server.URL, &resp)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestClientGet500IsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	var resp map[string]string
	err := client.Get(context.Background(), server.URL, &resp)
	if !IsRetryable(err) {
		t.Errorf("Get() error should be retryable, got %T: %v", err, err)
	}
}

func TestClientGet429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server, nil)

	var resp map[string]string
	err := client.Get(context.Background(), server.URL, &resp)
	var rl *merrors.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("Get() error = %T, want *RateLimitedError", err)
	}
	if rl.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", rl.RetryAfter)
	}
}

func TestClientGetNetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(t, nil, nil)
	var resp map[string]string
	err := client.Get(context.Background(), url, &resp)
	if !errors.Is(err, ErrNetwork) || !IsRetryable(err) {
		t.Errorf("Get() error = %v, want retryable ErrNetwork", err)
	}
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		wantErr    bool
		wantType   error
		isRetryErr bool
	}{
		{name: "200 OK", code: 200},
		{name: "404 Not Found", code: 404, wantErr: true, wantType: ErrNotFound},
		{name: "500 Internal Server Error", code: 500, wantErr: true, isRetryErr: true},
		{name: "502 Bad Gateway", code: 502, wantErr: true, isRetryErr: true},
		{name: "503 Service Unavailable", code: 503, wantErr: true, isRetryErr: true},
		{name: "400 Bad Request", code: 400, wantErr: true},
		{name: "403 Forbidden", code: 403, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStatus(tt.code)

			if !tt.wantErr {
				if err != nil {
					t.Errorf("checkStatus() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("checkStatus() should return error")
			}
			if tt.wantType != nil && !errors.Is(err, tt.wantType) {
				t.Errorf("checkStatus() error = %v, want %v", err, tt.wantType)
			}
			if IsRetryable(err) != tt.isRetryErr {
				t.Errorf("IsRetryable(%v) = %v, want %v", err, IsRetryable(err), tt.isRetryErr)
			}
		})
	}
}
