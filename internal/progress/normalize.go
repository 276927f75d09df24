// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress converts engine progress notifications into percentages.
package progress

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// TYPES
// =============================================================================

// Source identifies which input shape produced a sample's percent.
type Source int

const (
	SourceUnknown Source = iota
	SourceFraction
	SourceObject
	SourceCache
	SourceText
)

// String returns the source name used in logs.
func (s Source) String() string {
	switch s {
	case SourceFraction:
		return "fraction"
	case SourceObject:
		return "object"
	case SourceCache:
		return "cache"
	case SourceText:
		return "text"
	default:
		return "unknown"
	}
}

// Sample is a normalized progress notification.
type Sample struct {
	// Percent is in [0,100]. Meaningless when Known is false.
	Percent int

	// ETA is the remaining-time estimate, e.g. "12s remaining". Empty until
	// at least MinETAPercent has been reached.
	ETA string

	// Known is false for the unknown sentinel.
	Known bool

	// Source records which shape resolved the percent.
	Source Source

	// FromCache is set when the status text shows a cache restore, even if
	// another shape won precedence.
	FromCache bool

	// Text is the status text carried by the notification, if any.
	Text string
}

// Unknown is the sentinel returned when no percent could be resolved.
var Unknown = Sample{Source: SourceUnknown}

// IsCacheRestore reports whether the sample came from a cache restore.
func (s Sample) IsCacheRestore() bool {
	return s.Source == SourceCache || s.FromCache
}

// String renders the sample as "42%" or "42% (12s remaining)".
func (s Sample) String() string {
	if !s.Known {
		return "progress unknown"
	}
	if s.ETA == "" {
		return strconv.Itoa(s.Percent) + "%"
	}
	return fmt.Sprintf("%d%% (%s)", s.Percent, s.ETA)
}

// Report is the structured notification produced by the engine adapters.
// A nil Progress means the adapter had no fraction to offer.
type Report struct {
	Progress *float64 `json:"progress,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// Fraction is a helper for building a Report with a progress value.
func Fraction(f float64) *float64 {
	return &f
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// MinETAPercent is the lowest percent at which an ETA is estimated.
const MinETAPercent = 5

var (
	cachePattern   = regexp.MustCompile(`(?i)cache\[\s*(\d+)\s*/\s*(\d+)\s*\]`)
	percentPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
)

// textKeys are the object fields searched for status text, in order.
var textKeys = []string{"text", "status", "message"}

// Normalize resolves raw into a Sample using the current time for the ETA.
func Normalize(raw any, startedAt time.Time) Sample {
	return NormalizeAt(raw, startedAt, time.Now())
}

// NormalizeAt resolves raw into a Sample. Shapes are tried in order: a bare
// number, an object progress field, cache[i/n] text, then k% text.
func NormalizeAt(raw any, startedAt, now time.Time) Sample {
	s := resolve(raw)
	if !s.Known {
		return s
	}
	s.Percent = clamp(s.Percent)
	if !startedAt.IsZero() {
		s.ETA = EstimateETA(now.Sub(startedAt), s.Percent)
	}
	return s
}

// resolve applies the shape precedence without clamping or ETA.
func resolve(raw any) Sample {
	switch v := raw.(type) {
	case nil:
		return Unknown
	case Sample:
		return v
	case Report:
		return fromFields(v.Progress, v.Text)
	case *Report:
		if v == nil {
			return Unknown
		}
		return fromFields(v.Progress, v.Text)
	case string:
		return fromText(v)
	case json.RawMessage:
		return fromJSON(v)
	case []byte:
		return fromJSON(v)
	case map[string]any:
		return fromMap(v)
	case fmt.Stringer:
		if f, ok := toFloat(raw); ok {
			return fromFraction(f)
		}
		return fromText(v.String())
	}

	if f, ok := toFloat(raw); ok {
		return fromFraction(f)
	}
	return fromStruct(raw)
}

func fromFraction(f float64) Sample {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Unknown
	}
	return Sample{Percent: percentOf(f), Known: true, Source: SourceFraction}
}

// fromFields handles an object that may carry both a progress value and
// status text.
func fromFields(p *float64, text string) Sample {
	if p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0) {
		s := Sample{Percent: percentOf(*p), Known: true, Source: SourceObject, Text: text}
		s.FromCache = cachePattern.MatchString(text)
		return s
	}
	return fromText(text)
}

func fromText(text string) Sample {
	if m := cachePattern.FindStringSubmatch(text); m != nil {
		i, errI := strconv.Atoi(m[1])
		n, errN := strconv.Atoi(m[2])
		if errI == nil && errN == nil && n > 0 {
			return Sample{
				Percent:   percentOf(float64(i) / float64(n)),
				Known:     true,
				Source:    SourceCache,
				FromCache: true,
				Text:      text,
			}
		}
	}
	if m := percentPattern.FindStringSubmatch(text); m != nil {
		if k, err := strconv.ParseFloat(m[1], 64); err == nil {
			return Sample{Percent: int(math.Floor(k)), Known: true, Source: SourceText, Text: text}
		}
	}
	s := Unknown
	s.Text = text
	return s
}

func fromJSON(data []byte) Sample {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fromText(string(data))
	}
	return resolve(v)
}

func fromMap(m map[string]any) Sample {
	var text string
	for _, k := range textKeys {
		if s, ok := m[k].(string); ok && s != "" {
			text = s
			break
		}
	}
	var p *float64
	if raw, ok := m["progress"]; ok {
		if f, ok := toFloat(raw); ok {
			p = &f
		}
	}
	return fromFields(p, text)
}

// fromStruct looks for exported Progress and Text/Status/Message fields on
// arbitrary structs.
func fromStruct(raw any) Sample {
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Unknown
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return Unknown
	}

	var p *float64
	if f := rv.FieldByName("Progress"); f.IsValid() && f.CanInterface() {
		if v, ok := toFloat(f.Interface()); ok {
			p = &v
		}
	}
	var text string
	for _, name := range []string{"Text", "Status", "Message"} {
		f := rv.FieldByName(name)
		if f.IsValid() && f.Kind() == reflect.String {
			text = f.String()
			break
		}
	}
	return fromFields(p, text)
}

// toFloat converts numeric values, named numeric types and pointers to them
// to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case *float64:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	if _, ok := v.(fmt.Stringer); ok {
		return 0, false
	}
	return reflectFloat(reflect.ValueOf(v))
}

// reflectFloat handles named numeric types and pointers to numbers. Types
// with a String method are left to the text path.
func reflectFloat(rv reflect.Value) (float64, bool) {
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	}
	return 0, false
}

// percentOf converts a fraction to a whole percent, rounding down. The small
// epsilon keeps values like 0.29 from landing on 28.
func percentOf(f float64) int {
	f = math.Max(-1, math.Min(f, 2))
	return clamp(int(math.Floor(f*100 + 1e-9)))
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// =============================================================================
// ETA
// =============================================================================

// EstimateETA extrapolates the remaining time from elapsed and percent.
// It returns "" below MinETAPercent or when nothing remains.
func EstimateETA(elapsed time.Duration, percent int) string {
	if percent < MinETAPercent || elapsed <= 0 {
		return ""
	}
	total := float64(elapsed) / float64(percent) * 100
	remaining := time.Duration(total - float64(elapsed))
	if remaining <= 0 {
		return ""
	}
	return FormatRemaining(remaining)
}

// FormatRemaining renders seconds below a minute, minutes otherwise,
// always rounding up.
func FormatRemaining(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds remaining", int(math.Ceil(d.Seconds())))
	}
	return fmt.Sprintf("%dm remaining", int(math.Ceil(d.Minutes())))
}

// =============================================================================
// TRACKER
// =============================================================================

// Tracker keeps the percent of one load non-decreasing. Unknown samples are
// passed through carrying the last known percent.
type Tracker struct {
	startedAt time.Time
	last      int
	seen      bool
}

// NewTracker creates a tracker for a load that started at startedAt.
func NewTracker(startedAt time.Time) *Tracker {
	return &Tracker{startedAt: startedAt}
}

// Observe normalizes raw and enforces monotonicity against earlier samples.
func (t *Tracker) Observe(raw any) Sample {
	return t.ObserveAt(raw, time.Now())
}

// ObserveAt is Observe with an explicit clock.
func (t *Tracker) ObserveAt(raw any, now time.Time) Sample {
	s := NormalizeAt(raw, t.startedAt, now)
	if !s.Known {
		s.Percent = t.last
		return s
	}
	if t.seen && s.Percent < t.last {
		s.Percent = t.last
		s.ETA = EstimateETA(now.Sub(t.startedAt), s.Percent)
	}
	t.last = s.Percent
	t.seen = true
	return s
}

// Last returns the highest percent observed so far.
func (t *Tracker) Last() int {
	return t.last
}

// StartedAt returns when the tracked load began.
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// Elapsed returns the time since the load began.
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.startedAt)
}
