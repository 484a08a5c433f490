// Package directions talks to the external waypoint and reverse-geocoding
// providers. Both are used opaquely.
package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// ErrNoRoute is returned when the provider has no route between two points.
var ErrNoRoute = errors.New("no route")

// Provider returns the ordered waypoints of a driving route, inclusive of both ends.
type Provider interface {
	Route(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error)
}

// OSRMClient queries an OSRM-compatible /route/v1/driving endpoint.
type OSRMClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewOSRMClient creates a client for baseURL with a 10s request timeout.
func NewOSRMClient(baseURL string) *OSRMClient {
	return &OSRMClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Route fetches the full-overview geojson geometry between from and to.
func (c *OSRMClient) Route(ctx context.Context, from, to models.Coordinate) ([]models.Coordinate, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		c.BaseURL, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build route request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("route request failed: %w", err)
	}
	defer resp.Body.Close()

	// OSRM answers 400 with code NoRoute for unroutable points
	if resp.StatusCode == http.StatusBadRequest {
		return nil, ErrNoRoute
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj osrmResponse
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode route: %w", err)
	}
	if len(obj.Routes) == 0 {
		return nil, ErrNoRoute
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]models.Coordinate, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, models.Coordinate{Lat: c[1], Lng: c[0]})
	}
	return pts, nil
}
