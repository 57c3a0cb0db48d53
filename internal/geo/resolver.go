// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package geo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/sentinelgate/internal/logging"
)

// Resolver resolves an IP address to a geographic location.
// Implementations are external collaborators; callers must tolerate failure.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*Location, error)
}

// HTTPResolverConfig configures the HTTP geolocation client.
type HTTPResolverConfig struct {
	// BaseURL is the lookup endpoint; the IP is appended as a path segment.
	BaseURL string

	// Timeout bounds each lookup call. Default: 5s.
	Timeout time.Duration

	// BreakerName labels the circuit breaker in logs. Default: "geo-resolver".
	BreakerName string
}

// HTTPResolver calls an external geolocation service over HTTP.
// A circuit breaker prevents a degraded geo service from stalling event
// processing: while the breaker is open, lookups fail fast and events are
// recorded without location data.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Location]
}

// lookupResponse is the wire format of the geolocation service.
type lookupResponse struct {
	Status    string  `json:"status"`
	Country   string  `json:"country"`
	Region    string  `json:"regionName"`
	City      string  `json:"city"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	ISP       string  `json:"isp"`
	Proxy     bool    `json:"proxy"`
	Hosting   bool    `json:"hosting"`
	Tor       bool    `json:"tor"`
	Message   string  `json:"message,omitempty"`
}

// NewHTTPResolver creates a resolver with circuit breaker protection.
func NewHTTPResolver(cfg HTTPResolverConfig) *HTTPResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	name := cfg.BreakerName
	if name == "" {
		name = "geo-resolver"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("geo resolver circuit breaker state change")
		},
	}

	return &HTTPResolver{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*Location](settings),
	}
}

// Resolve looks up the location for an address.
// Private and loopback ranges short-circuit to the synthetic local network
// location without touching the external service.
func (r *HTTPResolver) Resolve(ctx context.Context, address string) (*Location, error) {
	if IsPrivate(address) {
		loc := LocalNetwork()
		return &loc, nil
	}

	return r.breaker.Execute(func() (*Location, error) {
		return r.lookup(ctx, address)
	})
}

// lookup performs the HTTP call.
func (r *HTTPResolver) lookup(ctx context.Context, address string) (*Location, error) {
	url := r.baseURL + "/" + address

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo lookup %s: unexpected status %d", address, resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode geo response: %w", err)
	}
	if lr.Status != "" && lr.Status != "success" {
		return nil, fmt.Errorf("geo lookup %s: %s", address, lr.Message)
	}

	return &Location{
		Country:   lr.Country,
		Region:    lr.Region,
		City:      lr.City,
		Latitude:  lr.Latitude,
		Longitude: lr.Longitude,
		ISP:       lr.ISP,
		IsProxy:   lr.Proxy || lr.Hosting,
		IsTor:     lr.Tor,
	}, nil
}
