package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/place-lookup-service/internal/domain"
	"github.com/couchcryptid/place-lookup-service/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Searcher using the Mapbox Geocoding API.
type Client struct {
	token      string
	limit      int
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client returning at most limit places per query.
func NewClient(token string, limit int, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		limit: limit,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger.With("adapter", "mapbox"),
	}
}

// Search forward-geocodes a free-text query. A 404 from Mapbox is reported as
// domain.ErrPlacemarkNotFound; a 200 with no features is an empty result.
func (c *Client) Search(ctx context.Context, query string) ([]domain.GeocodePlace, error) {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, url.PathEscape(query))
	params := url.Values{
		"access_token": {c.token},
		"limit":        {strconv.Itoa(c.limit)},
		"autocomplete": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.MapboxRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	c.metrics.MapboxRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("mapbox %q: %w", query, domain.ErrPlacemarkNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("mapbox response", "query", query, "features", len(mapboxResp.Features))

	places := make([]domain.GeocodePlace, 0, len(mapboxResp.Features))
	for _, f := range mapboxResp.Features {
		places = append(places, mapFeature(f))
	}
	return places, nil
}

// mapFeature converts one Mapbox feature into a place record.
func mapFeature(f feature) domain.GeocodePlace {
	place := domain.GeocodePlace{
		Name:    f.Text,
		Address: f.PlaceName,
		Phone:   f.Properties.Tel,
		URL:     f.Properties.URL,
	}
	// Mapbox uses lon,lat order.
	if len(f.Center) == 2 {
		place.Location = &domain.Geo{Lat: f.Center[1], Lon: f.Center[0]}
	}
	return place
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center     []float64  `json:"center"` // [lon, lat]
	PlaceName  string     `json:"place_name"`
	Text       string     `json:"text"`
	Relevance  float64    `json:"relevance"`
	Properties properties `json:"properties"`
}

type properties struct {
	Tel string `json:"tel"`
	URL string `json:"url"`
}
