package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/tsundoku/internal/shared"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("read failed") }
func (failingBody) Close() error             { return nil }

func TestAPIService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("With Custom BaseURL and Client", func(t *testing.T) {
			customClient := &http.Client{}
			srv := NewAPIService("http://example.com", customClient)

			if srv.BaseURL() != "http://example.com" {
				t.Errorf("expected baseURL 'http://example.com', got %s", srv.BaseURL())
			}
			if srv.httpClient != customClient {
				t.Error("expected custom client to be used")
			}
		})

		t.Run("With Empty BaseURL", func(t *testing.T) {
			srv := NewAPIService("", nil)

			if srv.BaseURL() != defaultAniListURL {
				t.Errorf("expected default baseURL %s, got %s", defaultAniListURL, srv.BaseURL())
			}
			if srv.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		t.Run("Successful Request With JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST method, got %s", r.Method)
				}
				if r.URL.Path != "/test" {
					t.Errorf("expected path '/test', got %s", r.URL.Path)
				}

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Custom", "value")
				json.NewEncoder(w).Encode(map[string]string{"status": "success"})
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Post(context.Background(), "/test", []byte(`{}`))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !resp.OK() {
				t.Errorf("expected status 200, got %d", resp.StatusCode)
			}
			if !resp.IsJSON || resp.JSONData == nil {
				t.Error("expected JSON response to be detected")
			}
			if resp.Headers.Get("X-Custom") != "value" {
				t.Error("expected response headers to be preserved")
			}
		})

		t.Run("Successful Request With Non-JSON Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("plain text"))
			}))
			defer server.Close()

			resp, err := NewAPIService(server.URL, nil).Post(context.Background(), "/", nil)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.IsJSON {
				t.Error("expected non-JSON response")
			}
			if string(resp.Body) != "plain text" {
				t.Errorf("unexpected body %q", resp.Body)
			}
		})

		t.Run("Failed HTTP Request", func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New("network error")
			})}

			if _, err := NewAPIService("http://example.com", client).Post(context.Background(), "/", nil); err == nil {
				t.Fatal("expected error for failed request")
			}
		})

		t.Run("Failed Response Body Read", func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return &http.Response{StatusCode: http.StatusOK, Body: failingBody{}, Header: http.Header{}}, nil
			})}

			if _, err := NewAPIService("http://example.com", client).Post(context.Background(), "/", nil); err == nil {
				t.Fatal("expected error for failed body read")
			}
		})

		t.Run("With Canceled Context", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := NewAPIService(server.URL, nil).Post(ctx, "/", nil); err == nil {
				t.Fatal("expected error for canceled context")
			}
		})
	})

	t.Run("PostJSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST method, got %s", r.Method)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %s", r.Header.Get("Content-Type"))
			}

			body, _ := io.ReadAll(r.Body)
			var payload map[string]string
			if err := json.Unmarshal(body, &payload); err != nil || payload["query"] != "q" {
				t.Errorf("unexpected request body %s", body)
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		resp, err := NewAPIService(server.URL, nil).PostJSON(context.Background(), "", map[string]string{"query": "q"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !resp.IsJSON {
			t.Error("expected JSON response")
		}
	})

	t.Run("APIResponse.Err", func(t *testing.T) {
		tests := []struct {
			status int
			body   string
			want   error
			not    error
		}{
			{status: 200},
			{status: 400, body: `{"errors":[{"message":"Invalid token","status":400}]}`, want: shared.ErrAuthFailed, not: shared.ErrPermanent},
			{status: 400, want: shared.ErrPermanent},
			{status: 404, want: shared.ErrPermanent},
			{status: 422, want: shared.ErrPermanent},
			{status: 401, want: shared.ErrAuthFailed, not: shared.ErrPermanent},
			{status: 408, want: shared.ErrServiceUnavailable, not: shared.ErrPermanent},
			{status: 429, want: shared.ErrServiceUnavailable, not: shared.ErrPermanent},
			{status: 503, want: shared.ErrServiceUnavailable, not: shared.ErrPermanent},
		}

		for _, tt := range tests {
			name := http.StatusText(tt.status)
			if tt.body != "" {
				name += " " + tt.body
			}
			t.Run(name, func(t *testing.T) {
				body := tt.body
				if body == "" {
					body = `{"errors":[{"message":"boom"}]}`
				}
				resp := &APIResponse{StatusCode: tt.status, Body: []byte(body)}
				err := resp.Err()

				if tt.want == nil {
					if err != nil {
						t.Fatalf("expected no error, got %v", err)
					}
					return
				}
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
				if !errors.Is(err, shared.ErrAPIRequest) {
					t.Errorf("expected ErrAPIRequest, got %v", err)
				}
				if tt.not != nil && errors.Is(err, tt.not) {
					t.Errorf("did not expect %v in %v", tt.not, err)
				}
			})
		}
	})
}
