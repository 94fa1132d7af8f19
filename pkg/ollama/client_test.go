package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
		want       string
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"model":"llama3.1:8b","response":"{\"slots\":[2,5]}","done":true,"eval_count":7}`,
			want:   `{"slots":[2,5]}`,
		},
		{
			name:       "model_missing",
			status:     http.StatusNotFound,
			body:       `{"error":"model not found"}`,
			wantErr:    "unexpected status 404",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server_error",
			status:     http.StatusInternalServerError,
			body:       `{"error":"boom"}`,
			wantErr:    "unexpected status 500",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{not json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/generate", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(WithBaseURL(srv.URL))
			resp, err := client.Generate(context.Background(), GenerateRequest{Prompt: "hi"})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, resp)
				if tt.wantStatus != 0 {
					var se *StatusError
					require.True(t, errors.As(err, &se))
					assert.Equal(t, tt.wantStatus, se.StatusCode)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Response)
			assert.True(t, resp.Done)
			assert.Equal(t, 7, resp.EvalCount)
		})
	}
}

func TestGenerate_Payload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithModel("qwen2.5:7b"))
	_, err := client.Generate(context.Background(), GenerateRequest{
		Prompt:  "judge this",
		Format:  "json",
		Options: &Options{Temperature: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5:7b", got["model"])
	assert.Equal(t, "judge this", got["prompt"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, "5m", got["keep_alive"])
	opts, ok := got["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), opts["temperature"])
	assert.NotContains(t, opts, "seed")
}

func TestGenerate_RequestModelOverridesDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "mistral", Prompt: "x"})
	require.NoError(t, err)
}

func TestGenerate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"response":"late"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := client.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send request")
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()
	c := NewClient()
	hc := c.(*httpClient)
	assert.Equal(t, defaultBaseURL, hc.baseURL)
	assert.Equal(t, defaultModel, hc.model)
	assert.Equal(t, defaultTimeout, hc.http.Timeout)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()
	custom := &http.Client{}
	c := NewClient(WithHTTPClient(custom))
	assert.Same(t, custom, c.(*httpClient).http)
}
