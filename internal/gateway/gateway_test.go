package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recordedResults struct {
	mu      sync.Mutex
	results []string
}

func (r *recordedResults) RecordGateway(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordedResults) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return ""
	}
	return r.results[len(r.results)-1]
}

func newGateway(t *testing.T, upstream http.HandlerFunc) (http.Handler, *recordedResults) {
	t.Helper()
	cfg := Config{Timeout: time.Second}
	if upstream != nil {
		srv := httptest.NewServer(upstream)
		t.Cleanup(srv.Close)
		cfg.FunctionURL = srv.URL
	}
	rec := &recordedResults{}
	r := chi.NewRouter()
	NewHandler(cfg, rec).RegisterRoutes(r)
	return r, rec
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const chatBody = `{"prompt":"Hello","messages":[{"sender":"Ada","text":"Hello"}],"user":{"name":"Ada"}}`

func TestGatewayWrapsReply(t *testing.T) {
	t.Parallel()

	forwarded := make(chan string, 1)
	h, rec := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		forwarded <- string(data)
		_, _ = w.Write([]byte(`{"statusCode":200,"body":"{\"generated_text\":\"Hi there\"}"}`))
	})

	resp := post(t, h, chatBody)
	require.Equal(t, http.StatusOK, resp.Code)

	assert.JSONEq(t, chatBody, <-forwarded)
	assert.Equal(t, `{"generated_text":"Hi there"}`, gjson.Get(resp.Body.String(), "lambda.body").String())
	assert.Equal(t, "ok", rec.last())
}

func TestGatewayErrors(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 300)
	tests := []struct {
		name     string
		upstream http.HandlerFunc
		result   string
		details  string
	}{
		{
			name: "function error status",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("boom"))
			},
			result:  "function_error",
			details: "boom",
		},
		{
			name: "function error header",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(FunctionErrorHeader, "Unhandled")
				_, _ = w.Write([]byte(`{"errorMessage":"bad"}`))
			},
			result:  "function_error",
			details: `{"errorMessage":"bad"}`,
		},
		{
			name: "function error without body",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			result:  "function_error",
			details: "Unknown function error",
		},
		{
			name: "empty reply",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("  \n"))
			},
			result: "empty_response",
		},
		{
			name: "invalid json",
			upstream: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(long))
			},
			result:  "parse_error",
			details: long[:parseErrorDetailLen],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, rec := newGateway(t, tt.upstream)
			resp := post(t, h, chatBody)

			require.Equal(t, http.StatusInternalServerError, resp.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
			assert.Equal(t, tt.result, body.Error)
			assert.Equal(t, tt.details, body.Details)
			assert.Equal(t, tt.result, rec.last())
		})
	}
}

func TestGatewayNotConfigured(t *testing.T) {
	t.Parallel()

	h, rec := newGateway(t, nil)
	resp := post(t, h, chatBody)

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.JSONEq(t, `{"error":"CHAT_FUNCTION_URL not configured on server"}`, resp.Body.String())
	assert.Equal(t, "not_configured", rec.last())
}

func TestGatewayUnreachableUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := chi.NewRouter()
	rec := &recordedResults{}
	NewHandler(Config{FunctionURL: url, Timeout: time.Second}, rec).RegisterRoutes(r)

	resp := post(t, r, chatBody)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "server_error", gjson.Get(resp.Body.String(), "error").String())
	assert.Equal(t, "server_error", rec.last())
}

func TestGatewayRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	called := false
	h, _ := newGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		called = true
	})

	resp := post(t, h, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}
