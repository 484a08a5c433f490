package directions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/models"
)

func TestOSRMClient_Route(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/-122.399000,37.783800;-122.410000,37.790000"))
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		w.Write([]byte(`{"code":"Ok","routes":[{"geometry":{"coordinates":[[-122.399,37.7838],[-122.4,37.785],[7],[-122.41,37.79]]}}]}`))
	}))
	defer server.Close()

	c := NewOSRMClient(server.URL + "/")
	pts, err := c.Route(context.Background(), models.Coordinate{Lat: 37.7838, Lng: -122.399}, models.Coordinate{Lat: 37.79, Lng: -122.41})
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, models.Coordinate{Lat: 37.7838, Lng: -122.399}, pts[0])
	assert.Equal(t, models.Coordinate{Lat: 37.79, Lng: -122.41}, pts[2])
}

func TestOSRMClient_NoRoute(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"code":"NoRoute"}`, ErrNoRoute},
		{"empty routes", http.StatusOK, `{"code":"Ok","routes":[]}`, ErrNoRoute},
		{"server error", http.StatusInternalServerError, ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOSRMClient(server.URL).Route(context.Background(), models.Coordinate{}, models.Coordinate{Lat: 1})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestNominatimClient_ReverseGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "51.5", r.URL.Query().Get("lat"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"display_name":"10 Downing Street, London"}`))
	}))
	defer server.Close()

	addr, err := NewNominatimClient(server.URL).ReverseGeocode(context.Background(), models.Coordinate{Lat: 51.5, Lng: -0.12})
	require.NoError(t, err)
	assert.Equal(t, "10 Downing Street, London", addr)
}

type failingGeocoder struct{}

func (failingGeocoder) ReverseGeocode(context.Context, models.Coordinate) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestAddressOrFallback(t *testing.T) {
	c := models.Coordinate{Lat: 37.7838, Lng: -122.399}
	assert.Equal(t, "[37.7838,-122.399]", AddressOrFallback(context.Background(), nil, c))
	assert.Equal(t, "[37.7838,-122.399]", AddressOrFallback(context.Background(), failingGeocoder{}, c))
}
