// Package geoip resolves client IP addresses to coarse locations for the
// suspicious-location detector. Resolution is best effort: callers treat a
// nil location or an error as "no location information" and carry on.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"
)

// Location is the resolved geolocation of one IP address.
type Location struct {
	Country   string  `json:"country"`
	Region    string  `json:"region"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Resolver maps an IP address to a location. Implementations return
// (nil, nil) when the address cannot be located, for example private
// ranges.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// suspiciousDistanceDegrees is the planar lat/lon distance beyond which two
// locations count as a suspicious jump. Euclidean distance on degrees is a
// known approximation that degrades near the poles and across the
// antimeridian; it is kept as documented behaviour.
const suspiciousDistanceDegrees = 5.0

// Distance returns the planar Euclidean distance between two locations in
// latitude/longitude degrees.
func Distance(a, b *Location) float64 {
	dLat := a.Latitude - b.Latitude
	dLon := a.Longitude - b.Longitude
	return math.Sqrt(dLat*dLat + dLon*dLon)
}

// SuspiciousJump reports whether moving between the two locations looks
// anomalous: a different country, or a coordinate jump beyond the
// threshold.
func SuspiciousJump(a, b *Location) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Country != "" && b.Country != "" && a.Country != b.Country {
		return true
	}
	return Distance(a, b) > suspiciousDistanceDegrees
}

// HTTPResolver queries the ip-api.com JSON endpoint. Private and loopback
// addresses short-circuit to (nil, nil) without a network call.
type HTTPResolver struct {
	client  *http.Client
	baseURL string
}

// NewHTTPResolver builds a resolver with the given timeout. A zero timeout
// selects 5 seconds.
func NewHTTPResolver(timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		client:  &http.Client{Timeout: timeout},
		baseURL: "http://ip-api.com/json",
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", r.baseURL, ip), nil)
	if err != nil {
		return nil, fmt.Errorf("geoip: build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geoip: resolve %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geoip: resolver returned status %d", resp.StatusCode)
	}

	var payload ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("geoip: decode response: %w", err)
	}
	if payload.Status != "success" {
		return nil, nil
	}

	return &Location{
		Country:   payload.Country,
		Region:    payload.RegionName,
		City:      payload.City,
		Latitude:  payload.Lat,
		Longitude: payload.Lon,
	}, nil
}
