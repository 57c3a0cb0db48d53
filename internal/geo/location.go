// Sentinelgate - Threat Detection and Incident Response Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinelgate

// Package geo provides the location value type, great-circle distance math,
// and IP-to-location resolution for the detection engine.
package geo

import (
	"math"
	"net"
)

// CoordinateEpsilon is the threshold for considering coordinates as effectively zero.
// DETERMINISM: A coordinate is considered "unknown" (sentinel value 0,0) if both
// latitude and longitude are within this epsilon of zero. 1e-7 degrees ≈ 1.1cm at
// the equator, well below GPS accuracy, but reliable for float comparison.
const CoordinateEpsilon = 1e-7

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// Location is a resolved geographic location for an IP address.
// It is a value type; locations are compared by great-circle distance.
type Location struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ISP       string  `json:"isp,omitempty"`
	IsProxy   bool    `json:"is_proxy"`
	IsTor     bool    `json:"is_tor"`
}

// LocalNetwork is the synthetic location assigned to private and loopback
// source addresses, which never reach the external resolver.
func LocalNetwork() Location {
	return Location{
		Country: "Local",
		Region:  "Local",
		City:    "Local Network",
	}
}

// Unknown reports whether the location carries the (0,0) sentinel coordinates.
// DETERMINISM: Uses epsilon comparison instead of direct float equality.
func (l Location) Unknown() bool {
	return math.Abs(l.Latitude) < CoordinateEpsilon && math.Abs(l.Longitude) < CoordinateEpsilon
}

// Distance returns the great-circle distance to other in kilometers using
// the haversine formula.
func (l Location) Distance(other Location) float64 {
	return Haversine(l.Latitude, l.Longitude, other.Latitude, other.Longitude)
}

// Anonymized reports whether the location sits behind an anonymizing proxy
// or an anonymity network.
func (l Location) Anonymized() bool {
	return l.IsProxy || l.IsTor
}

// Haversine calculates the great-circle distance between two points on Earth.
// Returns distance in kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// IsPrivate reports whether the address is in a private, loopback, or
// link-local range. Unparseable addresses are treated as private so they
// never reach the external resolver.
func IsPrivate(address string) bool {
	ip := net.ParseIP(address)
	if ip == nil {
		return true
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
