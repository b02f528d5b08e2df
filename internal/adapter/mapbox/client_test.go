package mapbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string, metrics *observability.Metrics) *Client {
	return &Client{
		token:      testToken,
		limit:      5,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		metrics:    metrics,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Search_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "blue bottle")
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "true", r.URL.Query().Get("autocomplete"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))

		resp := response{
			Features: []feature{
				{
					Center:    []float64{-122.4113, 37.7825},
					PlaceName: "Blue Bottle Coffee, 66 Mint St, San Francisco, California",
					Text:      "Blue Bottle Coffee",
					Relevance: 0.95,
					Properties: properties{
						Tel: "(510) 653-3394",
						URL: "https://bluebottlecoffee.com",
					},
				},
				{
					PlaceName: "Blue Bottle Way, Oakland, California",
					Text:      "Blue Bottle Way",
				},
			},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	c := testClient(srv.URL, metrics)
	places, err := c.Search(context.Background(), "blue bottle")
	require.NoError(t, err)

	want := []domain.GeocodePlace{
		{
			Name:     "Blue Bottle Coffee",
			Address:  "Blue Bottle Coffee, 66 Mint St, San Francisco, California",
			Location: &domain.Geo{Lat: 37.7825, Lon: -122.4113},
			Phone:    "(510) 653-3394",
			URL:      "https://bluebottlecoffee.com",
		},
		{
			Name:    "Blue Bottle Way",
			Address: "Blue Bottle Way, Oakland, California",
		},
	}
	if diff := cmp.Diff(want, places); diff != "" {
		t.Fatalf("places mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MapboxRequests.WithLabelValues("200")))
}

func TestClient_Search_NoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(response{Features: []feature{}}))
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	places, err := c.Search(context.Background(), "xyznonexistent")
	require.NoError(t, err)
	assert.Empty(t, places)
}

func TestClient_Search_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	_, err := c.Search(context.Background(), "nowhere")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestClient_Search_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	c := testClient(srv.URL, metrics)
	c.token = "bad-token"

	_, err := c.Search(context.Background(), "cafe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, domain.IsNotFound(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MapboxRequests.WithLabelValues("401")))
}

func TestClient_Search_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	c := testClient(srv.URL, metrics)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Search(context.Background(), "cafe")
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MapboxRequests.WithLabelValues("error")))
}

func TestClient_Search_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(srv.URL, observability.NewMetricsForTesting())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Search(ctx, "cafe")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
