// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package geo resolves source IP addresses to geolocation records through a
// bounded, time-expiring cache in front of a local MaxMind database. There is
// no network call in the lookup path.
package geo

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// Provider resolves one IP address to a geolocation record.
// A (nil, nil) return means the lookup succeeded but no data exists for the
// address; that is a valid outcome, not an error.
type Provider interface {
	// Lookup returns geolocation data for the given IP address.
	Lookup(ctx context.Context, ipAddress string) (*models.GeoRecord, error)

	// Name returns the provider name for logging and metrics.
	Name() string

	// IsAvailable reports whether the provider is configured and usable.
	IsAvailable() bool
}

// MaxMindProvider reads a local MaxMind City .mmdb file.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the database at path. The reader is memory-mapped
// and safe for concurrent use.
func NewMaxMindProvider(path string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo database %s: %w", path, err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Name returns the provider name.
func (p *MaxMindProvider) Name() string {
	return "maxmind-mmdb"
}

// IsAvailable reports whether the database was opened.
func (p *MaxMindProvider) IsAvailable() bool {
	return p.reader != nil
}

// Lookup resolves ipAddress against the local database. Private and reserved
// addresses resolve to nil without touching the reader; database records
// with no coordinates also resolve to nil.
func (p *MaxMindProvider) Lookup(_ context.Context, ipAddress string) (*models.GeoRecord, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipAddress)
	}
	if IsPrivateIP(ip) {
		return nil, nil
	}

	start := time.Now()
	city, err := p.reader.City(ip)
	metrics.GeoLookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("geo lookup for %s: %w", ipAddress, err)
	}

	if city.Location.Latitude == 0 && city.Location.Longitude == 0 && city.Country.IsoCode == "" {
		// Address exists in no subnet of the database.
		return nil, nil
	}

	return &models.GeoRecord{
		Latitude:    city.Location.Latitude,
		Longitude:   city.Location.Longitude,
		City:        city.City.Names["en"],
		CountryCode: city.Country.IsoCode,
		CountryName: city.Country.Names["en"],
	}, nil
}

// Close releases the database mapping.
func (p *MaxMindProvider) Close() error {
	if p.reader == nil {
		return nil
	}
	return p.reader.Close()
}

// privateRanges are address ranges that can never be geolocated.
var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

// IsPrivateIP reports whether ip falls in a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %q: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

// NoopProvider is used when no geo database is configured. Every lookup
// resolves to nil.
type NoopProvider struct{}

// Lookup always returns no data.
func (NoopProvider) Lookup(context.Context, string) (*models.GeoRecord, error) {
	return nil, nil
}

// Name returns the provider name.
func (NoopProvider) Name() string { return "noop" }

// IsAvailable reports false; there is no database behind this provider.
func (NoopProvider) IsAvailable() bool { return false }
