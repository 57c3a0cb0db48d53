// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package profile maintains per-user behavioral baselines: observed login
// hours, known IPs and locations, and coarse API usage patterns. Profiles are
// created lazily on the first successful authentication and updated
// incrementally; detection conditions that need a baseline fail closed when
// no profile exists.
package profile

import (
	"time"

	"github.com/tomtom215/sentinelgate/internal/geo"
)

const (
	// Retention is how long a profile survives after its last update.
	Retention = 90 * 24 * time.Hour

	// LocationProximityKm dedupes known locations: a new location is only
	// added when no existing known location is within this distance.
	LocationProximityKm = 50.0

	// DefaultAvgRequestsPerHour seeds a new profile's API usage baseline.
	DefaultAvgRequestsPerHour = 10.0

	// DefaultTrustScore seeds a new profile's trust score (0-100).
	DefaultTrustScore = 50
)

// APIUsagePattern is the coarse API usage baseline for a user.
type APIUsagePattern struct {
	AvgRequestsPerHour float64  `json:"avg_requests_per_hour"`
	PeakHours          []int    `json:"peak_hours,omitempty"`
	CommonProviders    []string `json:"common_providers,omitempty"`
}

// CredentialAccessPattern is the baseline for credential retrieval behavior.
type CredentialAccessPattern struct {
	AvgAccessesPerDay float64  `json:"avg_accesses_per_day"`
	CommonCredentials []string `json:"common_credentials,omitempty"`
}

// AnomalyThresholds holds the per-dimension sensitivity for this user.
type AnomalyThresholds struct {
	// LocationDeviationKm is the distance beyond every known location that
	// counts as a location anomaly.
	LocationDeviationKm float64 `json:"location_deviation_km"`

	// RequestRateMultiplier is how many times the baseline rate counts as
	// a rate anomaly.
	RequestRateMultiplier float64 `json:"request_rate_multiplier"`

	// OffHoursToleranceHours widens the known login hours by this many hours
	// on each side before an hour counts as unusual.
	OffHoursToleranceHours int `json:"off_hours_tolerance_hours"`
}

// BehaviorProfile is a user's learned baseline of normal access patterns.
type BehaviorProfile struct {
	UserID           string                  `json:"user_id"`
	LoginHours       []int                   `json:"login_hours"`
	KnownIPs         []string                `json:"known_ips"`
	KnownLocations   []geo.Location          `json:"known_locations"`
	APIUsage         APIUsagePattern         `json:"api_usage"`
	CredentialAccess CredentialAccessPattern `json:"credential_access"`
	Thresholds       AnomalyThresholds       `json:"thresholds"`
	LastUpdated      time.Time               `json:"last_updated"`
	TrustScore       int                     `json:"trust_score"`
}

// New creates a profile with conservative defaults for a first-seen user.
func New(userID string, now time.Time) *BehaviorProfile {
	return &BehaviorProfile{
		UserID:         userID,
		LoginHours:     []int{},
		KnownIPs:       []string{},
		KnownLocations: []geo.Location{},
		APIUsage: APIUsagePattern{
			AvgRequestsPerHour: DefaultAvgRequestsPerHour,
		},
		Thresholds: AnomalyThresholds{
			LocationDeviationKm:    500,
			RequestRateMultiplier:  3.0,
			OffHoursToleranceHours: 0,
		},
		LastUpdated: now,
		TrustScore:  DefaultTrustScore,
	}
}

// HasLoginHour reports whether hour is in the known login hours,
// widened by the off-hours tolerance.
func (p *BehaviorProfile) HasLoginHour(hour int) bool {
	tolerance := p.Thresholds.OffHoursToleranceHours
	for _, h := range p.LoginHours {
		diff := hour - h
		if diff < 0 {
			diff = -diff
		}
		// Hours wrap around midnight.
		if wrapped := 24 - diff; wrapped < diff {
			diff = wrapped
		}
		if diff <= tolerance {
			return true
		}
	}
	return false
}

// KnowsIP reports whether the source address has been seen before.
func (p *BehaviorProfile) KnowsIP(ip string) bool {
	for _, known := range p.KnownIPs {
		if known == ip {
			return true
		}
	}
	return false
}

// MinDistanceKm returns the distance from loc to the nearest known location.
// The second return is false when the profile has no known locations.
func (p *BehaviorProfile) MinDistanceKm(loc geo.Location) (float64, bool) {
	if len(p.KnownLocations) == 0 {
		return 0, false
	}

	min := loc.Distance(p.KnownLocations[0])
	for _, known := range p.KnownLocations[1:] {
		if d := loc.Distance(known); d < min {
			min = d
		}
	}
	return min, true
}

// ObserveLogin folds a successful authentication into the baseline:
// the hour is added if absent, the location is added unless an existing
// known location is within LocationProximityKm, and the IP is added if unseen.
func (p *BehaviorProfile) ObserveLogin(hour int, ip string, loc *geo.Location, now time.Time) {
	hourKnown := false
	for _, h := range p.LoginHours {
		if h == hour {
			hourKnown = true
			break
		}
	}
	if !hourKnown {
		p.LoginHours = append(p.LoginHours, hour)
	}

	if ip != "" && !p.KnowsIP(ip) {
		p.KnownIPs = append(p.KnownIPs, ip)
	}

	if loc != nil && !loc.Unknown() {
		if min, ok := p.MinDistanceKm(*loc); !ok || min > LocationProximityKm {
			p.KnownLocations = append(p.KnownLocations, *loc)
		}
	}

	p.LastUpdated = now
}
