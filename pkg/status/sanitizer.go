// Package status cleans error text before it is stored on scrape jobs or
// broadcast to ops subscribers. Source errors often echo request URLs,
// headers or SDK diagnostics that carry credentials.
package status

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength bounds stored error messages
const MaxMessageLength = 1000

type sensitivePattern struct {
	pattern     *regexp.Regexp
	replacement string
	description string
}

// Sanitizer redacts secrets and private addresses from error messages
type Sanitizer struct {
	patterns  []*sensitivePattern
	maxLength int
}

// NewSanitizer creates a sanitizer with the default patterns
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns:  buildDefaultSensitivePatterns(),
		maxLength: MaxMessageLength,
	}
}

var defaultSanitizer = NewSanitizer()

// Sanitize cleans msg with the default sanitizer
func Sanitize(msg string) string {
	return defaultSanitizer.Sanitize(msg)
}

// Order matters: credential-bearing URL parts go before the generic rules.
func buildDefaultSensitivePatterns() []*sensitivePattern {
	return []*sensitivePattern{
		{
			pattern:     regexp.MustCompile(`(?i)([?&](?:api[_-]?key|apikey|key|token|access[_-]?token|secret|signature|sig|auth)=)[^&\s"']+`),
			replacement: "${1}[redacted]",
			description: "credential query parameter",
		},
		{
			pattern:     regexp.MustCompile(`(https?://)[^/\s:@]+:[^/\s@]+@`),
			replacement: "${1}[redacted]@",
			description: "userinfo in URL",
		},
		{
			pattern:     regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`),
			replacement: "$1 [redacted]",
			description: "authorization header value",
		},
		{
			pattern:     regexp.MustCompile(`(?i)\b(x-api-key|api[_-]?key|authorization)(["']?\s*[:=]\s*["']?)[^\s"',}]+`),
			replacement: "$1$2[redacted]",
			description: "key value pair",
		},
		{
			pattern:     regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
			replacement: "[aws-access-key]",
			description: "AWS access key id",
		},
		{
			pattern:     regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`),
			replacement: "[request-id]",
			description: "SDK request id",
		},

		// Private IPv4 ranges
		{
			pattern:     regexp.MustCompile(`\b10\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "10.x.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b172\.(1[6-9]|2[0-9]|3[0-1])\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "172.16-31.x.x private IP",
		},
		{
			pattern:     regexp.MustCompile(`\b192\.168\.\d{1,3}\.\d{1,3}\b`),
			replacement: "[internal-ip]",
			description: "192.168.x.x private IP",
		},
	}
}

// Sanitize redacts sensitive substrings, collapses whitespace and truncates
func (s *Sanitizer) Sanitize(message string) string {
	if message == "" {
		return message
	}

	result := message
	for _, sp := range s.patterns {
		result = sp.pattern.ReplaceAllString(result, sp.replacement)
	}
	result = strings.Join(strings.Fields(result), " ")

	return truncate(result, s.maxLength)
}

// AddSensitivePattern adds a custom redaction rule
func (s *Sanitizer) AddSensitivePattern(pattern *regexp.Regexp, replacement, description string) {
	s.patterns = append(s.patterns, &sensitivePattern{
		pattern:     pattern,
		replacement: replacement,
		description: description,
	})
}

// truncate cuts at a rune boundary and marks the cut
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max - len("...")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
