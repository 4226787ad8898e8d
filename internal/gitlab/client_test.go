package gitlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	opts = append([]Option{WithHTTPClient(server.Client()), WithLogger(zerolog.Nop())}, opts...)
	return NewClient(server.URL+"/", "secret", 2, opts...)
}

func TestRequestIncludesAuthenticationAndHeaders(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/test", r.URL.Path)
		assert.Equal(t, "a=1", r.URL.RawQuery)
		assert.Equal(t, "secret", r.Header.Get("PRIVATE-TOKEN"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":123}`))
	})

	resp, err := client.Request(context.Background(), http.MethodGet, "/api/v4/test",
		url.Values{"a": {"1"}}, http.Header{"Accept": {"application/json"}}, nil)
	require.NoError(t, err)

	raw, ok := resp.Data.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"value":123}`, string(raw))
}

func TestRequestOmitsEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["Private-Token"]
		assert.False(t, present)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0, WithHTTPClient(server.Client()))
	data, err := client.Get(context.Background(), "/api/v4/version", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, DefaultPerPage, client.PerPage())
}

func TestRequestMergesExistingQuery(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"2"}, r.URL.Query()["b"])
		assert.Equal(t, []string{"keep"}, r.URL.Query()["a"])
		assert.Equal(t, []string{"new"}, r.URL.Query()["c"])
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Get(context.Background(), "/api/v4/items?a=keep&b=1",
		url.Values{"b": {"x", "2"}, "c": {"new"}})
	require.NoError(t, err)
}

func TestPaginateAccumulatesAllPages(t *testing.T) {
	var calls []url.Values
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set(NextPageHeader, "2")
			w.Write([]byte(`[1,2]`))
		default:
			w.Header().Set(NextPageHeader, "")
			w.Write([]byte(`[3]`))
		}
	})

	result, err := client.Paginate(context.Background(), "/api/v4/items", url.Values{"foo": {"bar"}})
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.JSONEq(t, "1", string(result[0]))
	assert.JSONEq(t, "2", string(result[1]))
	assert.JSONEq(t, "3", string(result[2]))

	require.Len(t, calls, 2)
	assert.Equal(t, url.Values{"foo": {"bar"}, "page": {"1"}, "per_page": {"2"}}, calls[0])
	assert.Equal(t, url.Values{"foo": {"bar"}, "page": {"2"}, "per_page": {"2"}}, calls[1])
}

func TestPaginateWrapsSingletonAndSkipsEmpty(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(NextPageHeader, "2")
			w.Write([]byte(`{"id":7}`))
		case "2":
			w.Header().Set(NextPageHeader, "3")
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[]`))
		}
	})

	result, err := client.Paginate(context.Background(), "/api/v4/thing", nil)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.JSONEq(t, `{"id":7}`, string(result[0]))
}

func TestNonSuccessRaisesTransportError(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("nope"))
	})

	_, err := client.Get(context.Background(), "/api/v4/broken", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.Contains(t, err.Error(), "GitLab request failed")
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "nope")
}

func TestPlainTextIsReturnedUnparsed(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("plain"))
	})

	data, err := client.Get(context.Background(), "/api/v4/raw", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", data)
}

func TestMalformedJSONRaisesDecodeError(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte("{not json"))
	})

	_, err := client.Get(context.Background(), "/api/v4/bad", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsDecode(err))
	assert.Contains(t, err.Error(), "{not json")
}

func TestGetIntoDecodesTypedValue(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/group%2Fproject", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":42}`))
	})

	var project struct {
		ID int `json:"id"`
	}
	err := client.GetInto(context.Background(), "/api/v4/projects/"+PathSegment("group/project"), nil, &project)
	require.NoError(t, err)
	assert.Equal(t, 42, project.ID)
}

func TestOAuth2ModeSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("PRIVATE-TOKEN"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 10, WithAuthMode(AuthOAuth2))
	_, err := client.Get(context.Background(), "/api/v4/user", nil)
	require.NoError(t, err)
}

func TestRateLimiterObservesHeaders(t *testing.T) {
	limiter := NewRateLimiter(0, 5, zerolog.Nop())
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "100")
		w.Header().Set("RateLimit-Reset", "0")
		w.WriteHeader(http.StatusOK)
	}, WithRateLimiter(limiter))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "/api/v4/ping", nil)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	limiter := NewRateLimiter(time.Hour, 0, zerolog.Nop())
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}
