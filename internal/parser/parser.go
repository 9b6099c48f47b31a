// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

// Package parser converts raw firewall log datagrams into structured attack
// records. Only deny-action records pass; everything else is either silently
// filtered (non-deny actions) or rejected with a reason (structural failure).
package parser

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	syslog "github.com/leodido/go-syslog/v4"
	"github.com/leodido/go-syslog/v4/rfc3164"

	"github.com/arcspark/arclight/internal/models"
)

// MaxRawLen bounds the raw text preserved in rejections, capping dead-letter
// storage per entry.
const MaxRawLen = 512

// Rejection reasons, used as metric labels and dead-letter reasons.
const (
	ReasonInvalidUTF8     = "invalid_utf8"
	ReasonEmptyMessage    = "empty_message"
	ReasonBadEnvelope     = "bad_envelope"
	ReasonMissingSource   = "missing_source_ip"
	ReasonMissingDest     = "missing_destination_ip"
	ReasonInvalidSource   = "invalid_source_ip"
	ReasonInvalidDest     = "invalid_destination_ip"
)

// Rejection describes why a record could not become an AttackRecord.
type Rejection struct {
	// Reason is one of the Reason* constants.
	Reason string
	// Raw is the original text, truncated to MaxRawLen.
	Raw string
}

// Parser parses syslog-wrapped firewall log lines.
//
// The zero value is not usable; construct with New. Parse is safe for
// concurrent use.
type Parser struct {
	mu      sync.Mutex
	machine syslog.Machine
}

// New creates a Parser with an RFC 3164 envelope machine. Timestamps without
// a year get the current year.
func New() *Parser {
	return &Parser{
		machine: rfc3164.NewMachine(rfc3164.WithYear(rfc3164.CurrentYear{})),
	}
}

// Parse converts one raw datagram payload into an AttackRecord.
//
// Exactly one of the return values is non-nil, except for the filter case:
// a structurally valid record whose action is present but not "deny", or
// whose action is missing, returns (nil, nil) and is neither forwarded nor
// dead-lettered. receivedAt is the fallback timestamp when the envelope
// carries none.
func (p *Parser) Parse(raw []byte, receivedAt time.Time) (*models.AttackRecord, *Rejection) {
	if !utf8.Valid(raw) {
		return nil, reject(ReasonInvalidUTF8, string(raw))
	}

	text := normalize(string(raw))
	if text == "" {
		return nil, reject(ReasonEmptyMessage, string(raw))
	}

	ts, body, ok := p.parseEnvelope(text)
	if !ok {
		return nil, reject(ReasonBadEnvelope, text)
	}
	if ts.IsZero() {
		ts = receivedAt
	}

	fields := extractFields(body)

	// Filtering, not failure: anything that is not an explicit deny is
	// dropped without a dead-letter entry.
	if fields.action != "deny" {
		return nil, nil
	}

	if fields.src == "" {
		return nil, reject(ReasonMissingSource, text)
	}
	if fields.dst == "" {
		return nil, reject(ReasonMissingDest, text)
	}
	if !validDottedQuad(fields.src) {
		return nil, reject(ReasonInvalidSource, text)
	}
	if !validDottedQuad(fields.dst) {
		return nil, reject(ReasonInvalidDest, text)
	}

	return &models.AttackRecord{
		Timestamp:      ts,
		SourceIP:       fields.src,
		DestinationIP:  fields.dst,
		ThreatCategory: Categorize(fields.threat),
		Action:         fields.action,
		RawText:        truncate(text),
	}, nil
}

// parseEnvelope extracts the syslog timestamp and free-text body. The ragel
// machine is not safe for concurrent use, so calls are serialized.
func (p *Parser) parseEnvelope(text string) (ts time.Time, body string, ok bool) {
	p.mu.Lock()
	msg, err := p.machine.Parse([]byte(text))
	p.mu.Unlock()
	if err != nil {
		return time.Time{}, "", false
	}

	m, isRFC3164 := msg.(*rfc3164.SyslogMessage)
	if !isRFC3164 || m.Message == nil {
		return time.Time{}, "", false
	}
	if m.Timestamp != nil {
		ts = *m.Timestamp
	}
	return ts, *m.Message, true
}

// fields holds the extracted firewall record fields.
type fields struct {
	src    string
	dst    string
	action string
	threat string
}

// threatKeys lists accepted names for the threat-type field, in match order.
var threatKeys = []string{"threat_type", "threat", "attack"}

// extractFields pulls src/dst/action/threat out of the message body. The
// primary format is key=value pairs; a comma-delimited positional format
// (src,dst,action,threat) is the fallback when no known key appears.
// The first occurrence of a duplicated key wins.
func extractFields(body string) fields {
	kv := make(map[string]string)
	for _, token := range strings.FieldsFunc(body, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	}) {
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			continue
		}
		key = strings.ToLower(key)
		if _, seen := kv[key]; seen {
			continue // first match wins
		}
		kv[key] = strings.Trim(value, `"`)
	}

	f := fields{
		src:    kv["src"],
		dst:    kv["dst"],
		action: strings.ToLower(kv["action"]),
	}
	for _, k := range threatKeys {
		if v := kv[k]; v != "" {
			f.threat = v
			break
		}
	}

	if f.src != "" || f.dst != "" || f.action != "" {
		return f
	}
	return extractPositional(body)
}

// extractPositional parses the legacy comma-delimited format:
// src,dst,action[,threat]
func extractPositional(body string) fields {
	parts := strings.Split(body, ",")
	if len(parts) < 3 {
		return fields{}
	}
	f := fields{
		src:    strings.TrimSpace(parts[0]),
		dst:    strings.TrimSpace(parts[1]),
		action: strings.ToLower(strings.TrimSpace(parts[2])),
	}
	if len(parts) > 3 {
		f.threat = strings.TrimSpace(parts[3])
	}
	return f
}

// normalize replaces literal escape sequences and control characters left by
// upstream log forwarders with spaces, then trims.
func normalize(s string) string {
	r := strings.NewReplacer(
		`\n`, " ",
		`\r`, " ",
		`\t`, " ",
		"\n", " ",
		"\r", " ",
		"\t", " ",
	)
	return strings.TrimSpace(r.Replace(s))
}

// validDottedQuad reports whether s is a strict IPv4 dotted quad: four
// decimal octets, each 0-255.
func validDottedQuad(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		// Atoi alone would admit signs and leading zeros ("+25", "025")
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return false
			}
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func truncate(s string) string {
	if len(s) <= MaxRawLen {
		return s
	}
	return s[:MaxRawLen]
}

func reject(reason, raw string) *Rejection {
	return &Rejection{Reason: reason, Raw: truncate(raw)}
}
