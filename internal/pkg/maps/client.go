// internal/pkg/maps/client.go
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/your-org/storefront-backend/internal/config"
)

// Coordinates is a WGS84 point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is a driving route estimate between two points
type Route struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	Estimated       bool    `json:"estimated"` // true when derived from straight-line fallback
}

// Client talks to the routing/geocoding provider
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logrus.Logger
}

// NewClient creates a maps client from configuration
func NewClient(cfg config.MapsConfig, log *logrus.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Geocode resolves a free-form address to coordinates
func (c *Client) Geocode(ctx context.Context, address string) (*Coordinates, error) {
	endpoint := fmt.Sprintf("%s/geocode?q=%s&key=%s",
		c.baseURL, url.QueryEscape(address), url.QueryEscape(c.apiKey))

	var out struct {
		Results []struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"results"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("no geocoding result for address")
	}
	return &Coordinates{Lat: out.Results[0].Lat, Lng: out.Results[0].Lng}, nil
}

// CalculateRoute returns the driving distance and duration between two
// points. When the provider is unreachable the straight-line distance is
// returned instead, marked as estimated, so checkout never blocks on the
// maps provider.
func (c *Client) CalculateRoute(ctx context.Context, origin, destination Coordinates) (*Route, error) {
	endpoint := fmt.Sprintf("%s/route?from=%f,%f&to=%f,%f&key=%s",
		c.baseURL, origin.Lat, origin.Lng, destination.Lat, destination.Lng,
		url.QueryEscape(c.apiKey))

	var out struct {
		DistanceMeters  float64 `json:"distance_meters"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		distance := HaversineKm(origin, destination)
		c.log.WithError(err).WithField("distance_km", distance).
			Warn("route provider unavailable, using straight-line estimate")
		return &Route{
			DistanceKm:      distance,
			DurationMinutes: distance * 3, // rough urban driving estimate
			Estimated:       true,
		}, nil
	}

	return &Route{
		DistanceKm:      out.DistanceMeters / 1000,
		DurationMinutes: out.DurationSeconds / 60,
	}, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build maps request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("maps request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("maps provider returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HaversineKm computes the great-circle distance between two points
func HaversineKm(a, b Coordinates) float64 {
	const earthRadiusKm = 6371.0

	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
