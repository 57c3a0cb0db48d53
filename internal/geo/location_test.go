// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

package geo

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKm                 float64
		toleranceKm            float64
	}{
		{
			name: "san francisco to new york",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 40.7128, lon2: -74.0060,
			wantKm:      4130,
			toleranceKm: 50,
		},
		{
			name: "london to paris",
			lat1: 51.5074, lon1: -0.1278,
			lat2: 48.8566, lon2: 2.3522,
			wantKm:      344,
			toleranceKm: 10,
		},
		{
			name: "identical points",
			lat1: 37.7749, lon1: -122.4194,
			lat2: 37.7749, lon2: -122.4194,
			wantKm:      0,
			toleranceKm: 0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Haversine(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantKm) > tt.toleranceKm {
				t.Errorf("Haversine = %.1f km, want %.1f ± %.1f", got, tt.wantKm, tt.toleranceKm)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := Location{Latitude: 37.77, Longitude: -122.42}
	b := Location{Latitude: 51.5074, Longitude: -0.1278}

	if d1, d2 := a.Distance(b), b.Distance(a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %.9f vs %.9f", d1, d2)
	}
	if d := a.Distance(a); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}
}

func TestLocationUnknown(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want bool
	}{
		{"zero sentinel", Location{}, true},
		{"sub-epsilon", Location{Latitude: 1e-9, Longitude: -1e-9}, true},
		{"real coordinates", Location{Latitude: 37.77, Longitude: -122.42}, false},
		{"null island adjacent", Location{Latitude: 0.5, Longitude: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.Unknown(); got != tt.want {
				t.Errorf("Unknown() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		address string
		want    bool
	}{
		{"10.0.0.5", true},
		{"192.168.1.1", true},
		{"172.16.0.1", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"169.254.1.1", true},
		{"0.0.0.0", true},
		{"not-an-ip", true},
		{"", true},
		{"8.8.8.8", false},
		{"203.0.113.50", false},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			if got := IsPrivate(tt.address); got != tt.want {
				t.Errorf("IsPrivate(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}
}

func TestHTTPResolverShortCircuitsPrivateRanges(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	r := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL})

	loc, err := r.Resolve(context.Background(), "10.0.0.5")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if called {
		t.Error("external service should not be called for private addresses")
	}
	if loc.City != "Local Network" {
		t.Errorf("City = %q, want %q", loc.City, "Local Network")
	}
	if !loc.Unknown() {
		t.Error("local network location should carry sentinel coordinates")
	}
}

func TestHTTPResolverParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"country": "United States",
			"regionName": "California",
			"city": "San Francisco",
			"lat": 37.7749,
			"lon": -122.4194,
			"isp": "Example ISP",
			"proxy": true
		}`))
	}))
	defer server.Close()

	r := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL})

	loc, err := r.Resolve(context.Background(), "203.0.113.50")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.City != "San Francisco" || loc.Country != "United States" {
		t.Errorf("unexpected location %+v", loc)
	}
	if !loc.IsProxy {
		t.Error("expected IsProxy to be set")
	}
	if loc.Unknown() {
		t.Error("resolved location should have coordinates")
	}
}

func TestHTTPResolverFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "fail", "message": "reserved range"}`))
	}))
	defer server.Close()

	r := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL})

	if _, err := r.Resolve(context.Background(), "203.0.113.50"); err == nil {
		t.Error("expected error for failed lookup status")
	}
}

func TestHTTPResolverBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewHTTPResolver(HTTPResolverConfig{BaseURL: server.URL})

	for i := 0; i < 5; i++ {
		if _, err := r.Resolve(context.Background(), "203.0.113.50"); err == nil {
			t.Fatal("expected lookup failure")
		}
	}

	// Breaker is now open: calls fail fast without reaching the server.
	server.Close()
	if _, err := r.Resolve(context.Background(), "203.0.113.50"); err == nil {
		t.Error("expected fail-fast error with open breaker")
	}
}
