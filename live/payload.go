package live

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxPayloadBytes drops anything that cannot be a single reading.
const maxPayloadBytes = 4096

var (
	errEmptyPayload    = errors.New("empty payload")
	errOversizePayload = errors.New("payload too large")
	errNoValue         = errors.New("no numeric value in payload")
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParsePayload extracts a reading. A bare number has no timestamp. For JSON
// objects the value is taken from key, then "value", then the only numeric
// field present; "timestamp" is read when it parses.
func ParsePayload(payload []byte, key string) (float64, time.Time, error) {
	if len(payload) > maxPayloadBytes {
		return 0, time.Time{}, errOversizePayload
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, time.Time{}, errEmptyPayload
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, time.Time{}, nil
	}

	var doc map[string]jsoniter.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return 0, time.Time{}, fmt.Errorf("decode payload: %w", err)
	}

	var at time.Time
	if raw, ok := doc["timestamp"]; ok {
		at = parseTimestamp(raw)
	}
	for _, k := range []string{key, "value"} {
		if k == "" {
			continue
		}
		if v, ok := numeric(doc[k]); ok {
			return v, at, nil
		}
	}
	var (
		found float64
		count int
	)
	for k, raw := range doc {
		if k == "timestamp" {
			continue
		}
		if v, ok := numeric(raw); ok {
			found = v
			count++
		}
	}
	if count == 1 {
		return found, at, nil
	}
	return 0, time.Time{}, errNoValue
}

// numeric accepts JSON numbers and numeric strings.
func numeric(raw jsoniter.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseTimestamp(raw jsoniter.RawMessage) time.Time {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}
	}
	return ParseTime(s)
}

// ParseTime reads the leader's timestamp strings. Zoneless values are UTC;
// an unparseable value yields the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
