// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package parser

import (
	"strings"

	"github.com/arcspark/arclight/internal/models"
)

// Threat vocabulary, matched as substrings of the raw threat-type text.
// Order matters: the first category with a matching term wins.
var taxonomy = []struct {
	category models.ThreatCategory
	terms    []string
}{
	{models.ThreatMalware, []string{
		"malware", "virus", "trojan", "botnet", "worm", "spyware",
		"ransom", "c2", "command-and-control",
	}},
	{models.ThreatIntrusion, []string{
		"intrusion", "exploit", "scan", "probe", "brute", "inject",
		"backdoor", "ips", "xss", "traversal",
	}},
	{models.ThreatVolumetric, []string{
		"flood", "ddos", "dos", "volumetric", "amplification", "smurf",
	}},
}

// Categorize maps raw threat-type text into the fixed taxonomy. Unmatched or
// empty text maps to unknown.
func Categorize(threat string) models.ThreatCategory {
	threat = strings.ToLower(threat)
	if threat == "" {
		return models.ThreatUnknown
	}
	for _, entry := range taxonomy {
		for _, term := range entry.terms {
			if strings.Contains(threat, term) {
				return entry.category
			}
		}
	}
	return models.ThreatUnknown
}
