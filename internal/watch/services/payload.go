package services

import (
	"strconv"
	"strings"
)

// Payload is the parsed form of a notification's semi-structured text body.
// The body is line-oriented "key: value" text; values may carry a leading
// YAML-style anchor marker ("&id001") that is stripped on parse. All lookups
// are optional so handlers degrade to placeholders on absent keys.
type Payload map[string]string

// ParsePayload splits the opaque notification text into a key/value map.
// Lines without a colon are ignored.
func ParsePayload(text string) Payload {
	payload := make(Payload)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		// Strip YAML anchor markers like "&id001 204" -> "204"
		if strings.HasPrefix(value, "&") {
			if space := strings.IndexByte(value, ' '); space >= 0 {
				value = strings.TrimSpace(value[space+1:])
			} else {
				value = ""
			}
		}

		value = strings.Trim(value, "'\"")

		if key != "" {
			payload[key] = value
		}
	}
	return payload
}

// String returns the raw value for key
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// StringOr returns the value for key or fallback when absent
func (p Payload) StringOr(key, fallback string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Int64 parses the value for key as a 64-bit integer
func (p Payload) Int64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Int parses the value for key as an integer
func (p Payload) Int(key string) (int, bool) {
	n, ok := p.Int64(key)
	return int(n), ok
}

// Float64 parses the value for key as a float
func (p Payload) Float64(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
