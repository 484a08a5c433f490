package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/models"
)

var ErrNoAddress = errors.New("no address")

// Geocoder resolves a coordinate to a formatted address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c models.Coordinate) (string, error)
}

// NominatimClient queries a Nominatim-compatible /reverse endpoint.
type NominatimClient struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

func NewNominatimClient(baseURL string) *NominatimClient {
	return &NominatimClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  "fleet-delivery/1.0",
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// ReverseGeocode returns the display name for c.
func (n *NominatimClient) ReverseGeocode(ctx context.Context, c models.Coordinate) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lng, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", n.UserAgent)
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocoder status %d", resp.StatusCode)
	}
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode address: %w", err)
	}
	if out.DisplayName == "" {
		return "", ErrNoAddress
	}
	return out.DisplayName, nil
}

// FallbackAddress is the literal shown when no address can be resolved.
func FallbackAddress(c models.Coordinate) string {
	return "[" + strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64) + "]"
}

// AddressOrFallback never fails: provider errors degrade to FallbackAddress.
func AddressOrFallback(ctx context.Context, g Geocoder, c models.Coordinate) string {
	if g == nil {
		return FallbackAddress(c)
	}
	addr, err := g.ReverseGeocode(ctx, c)
	if err != nil {
		log.WithError(err).WithField("coordinate", c).Debug("Reverse geocode failed, using coordinates")
		return FallbackAddress(c)
	}
	return addr
}
