package tiktok

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"tokstat/internal/track"
)

// The upstream exposes statistics through several structurally different
// shapes: a clean nested object, a top-level stats object, or JSON blobs
// embedded in the video page's script tags. Field names vary per shape.
// All of that guessing is kept as data, ordered lists tried in sequence,
// instead of nested conditionals.

// Counter key synonyms, in priority order. First present, parseable value wins.
var (
	viewKeys     = []string{"playCount", "play_count", "views"}
	likeKeys     = []string{"diggCount", "digg_count", "likes"}
	shareKeys    = []string{"shareCount", "share_count", "shares"}
	favoriteKeys = []string{"collectCount", "collect_count", "favorites"}
)

// statsPaths are dotted locator paths into a parsed JSON document, most
// common shape first.
var statsPaths = [][]string{
	{"data", "stats"},
	{"stats"},
	{"itemInfo", "itemStruct", "stats"},
	{"data", "aweme_detail", "statistics"},
}

// containerKeys are tried first during the bounded deep search; they are the
// wrappers the upstream has been observed to nest stats under.
var containerKeys = []string{
	"data", "itemInfo", "itemStruct", "stats", "statistics",
	"aweme_detail", "ItemModule", "__DEFAULT_SCOPE__", "webapp.video-detail",
}

// Deep search bounds. The payload is adversarially large at times; the
// search must stay cheap even then.
const (
	maxSearchDepth   = 10
	maxKeysPerLevel  = 20
	maxListElements  = 10
	maxEmbeddedBytes = 2 << 20
)

// htmlMarkers locate embedded JSON documents inside an HTML page. Each
// marker is followed by a balanced JSON object that is parsed independently;
// unparseable candidates are skipped.
var htmlMarkers = []string{
	`<script id="SIGI_STATE" type="application/json">`,
	`<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">`,
	`window['SIGI_STATE']=`,
	`window.SIGI_STATE =`,
	`"webapp.video-detail":`,
}

// ExtractStats produces a normalized snapshot from a raw fetch payload, or
// reports absence. An all-zero snapshot is treated as absent on every path:
// it almost always means the format changed under us, not a video nobody
// ever watched.
func ExtractStats(payload []byte) (track.MetricSnapshot, bool) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return track.MetricSnapshot{}, false
	}

	if doc, ok := parseJSON(payload); ok {
		// A payload that parses as JSON is authoritative: either the locators
		// find stats in it or there are none. Textual scanning over a
		// structured document would happily pick numbers out of unrelated
		// fields.
		return snapshotFromDoc(doc)
	}

	// Not a bare JSON document: scan for embedded JSON.
	for _, candidate := range embeddedJSONCandidates(payload) {
		doc, ok := parseJSON(candidate)
		if !ok {
			continue
		}
		if m, ok := snapshotFromDoc(doc); ok {
			return m, true
		}
	}

	// Last resort: textual per-counter scan over the raw bytes.
	m := track.MetricSnapshot{
		Views:     scanCounter(payload, viewKeys),
		Likes:     scanCounter(payload, likeKeys),
		Shares:    scanCounter(payload, shareKeys),
		Favorites: scanCounter(payload, favoriteKeys),
	}
	if m.AllZero() {
		return track.MetricSnapshot{}, false
	}
	return m, true
}

func parseJSON(b []byte) (any, bool) {
	if len(b) == 0 || (b[0] != '{' && b[0] != '[') {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// snapshotFromDoc walks the locator paths, then the bounded deep search,
// and normalizes the first stats object that passes the validity gate.
func snapshotFromDoc(doc any) (track.MetricSnapshot, bool) {
	for _, path := range statsPaths {
		if sub, ok := lookupPath(doc, path); ok {
			if m, ok := normalize(sub); ok {
				return m, true
			}
		}
	}
	if sub, ok := deepFindStats(doc, 0); ok {
		if m, ok := normalize(sub); ok {
			return m, true
		}
	}
	return track.MetricSnapshot{}, false
}

func lookupPath(doc any, path []string) (map[string]any, bool) {
	cur := doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	obj, ok := cur.(map[string]any)
	return obj, ok
}

// deepFindStats searches nested JSON of unknown shape for an object carrying
// at least one recognized counter key. Known container keys are descended
// first; the exhaustive walk is bounded in depth and breadth so pathological
// payloads cost a fixed amount of work.
func deepFindStats(v any, depth int) (map[string]any, bool) {
	if depth > maxSearchDepth {
		return nil, false
	}
	switch x := v.(type) {
	case map[string]any:
		if hasCounterKey(x) {
			return x, true
		}
		for _, key := range containerKeys {
			if child, ok := x[key]; ok {
				if found, ok := deepFindStats(child, depth+1); ok {
					return found, true
				}
			}
		}
		n := 0
		for key, child := range x {
			if n >= maxKeysPerLevel {
				break
			}
			n++
			if isContainerKey(key) {
				continue // already visited
			}
			if found, ok := deepFindStats(child, depth+1); ok {
				return found, true
			}
		}
	case []any:
		for i, child := range x {
			if i >= maxListElements {
				break
			}
			if found, ok := deepFindStats(child, depth+1); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func isContainerKey(key string) bool {
	for _, c := range containerKeys {
		if key == c {
			return true
		}
	}
	return false
}

func hasCounterKey(obj map[string]any) bool {
	for _, keys := range [][]string{viewKeys, likeKeys, shareKeys, favoriteKeys} {
		for _, k := range keys {
			if _, ok := obj[k]; ok {
				return true
			}
		}
	}
	return false
}

// normalize maps a located stats object onto the four counters. Absent or
// unparseable values default to zero; an all-zero result fails the gate.
func normalize(obj map[string]any) (track.MetricSnapshot, bool) {
	m := track.MetricSnapshot{
		Views:     firstCounter(obj, viewKeys),
		Likes:     firstCounter(obj, likeKeys),
		Shares:    firstCounter(obj, shareKeys),
		Favorites: firstCounter(obj, favoriteKeys),
	}
	if m.AllZero() {
		return track.MetricSnapshot{}, false
	}
	return m, true
}

func firstCounter(obj map[string]any, keys []string) int64 {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt64(v); ok {
			return n
		}
	}
	return 0
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

// embeddedJSONCandidates cuts balanced JSON objects out of an HTML payload,
// one per marker occurrence.
func embeddedJSONCandidates(payload []byte) [][]byte {
	var out [][]byte
	for _, marker := range htmlMarkers {
		idx := bytes.Index(payload, []byte(marker))
		if idx < 0 {
			continue
		}
		rest := payload[idx+len(marker):]
		start := bytes.IndexByte(rest, '{')
		if start < 0 {
			continue
		}
		if obj := balancedObject(rest[start:]); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// balancedObject returns the shortest prefix of b that is a brace-balanced
// JSON object, honoring strings and escapes. Returns nil if b never
// balances within the size cap.
func balancedObject(b []byte) []byte {
	if len(b) > maxEmbeddedBytes {
		b = b[:maxEmbeddedBytes]
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}

// Textual fallback: per-counter patterns, JSON-key-like first, then loosely
// quoted assignment variants. Each counter resolves independently from the
// first pattern that matches.
var counterPatterns = map[string][]*regexp.Regexp{}

func init() {
	for _, keys := range [][]string{viewKeys, likeKeys, shareKeys, favoriteKeys} {
		for _, k := range keys {
			counterPatterns[k] = []*regexp.Regexp{
				regexp.MustCompile(`"` + k + `"\s*:\s*"?(\d+)"?`),
				regexp.MustCompile(k + `['"]?\s*[:=]\s*['"]?(\d+)`),
			}
		}
	}
}

func scanCounter(payload []byte, keys []string) int64 {
	for _, k := range keys {
		for _, re := range counterPatterns[k] {
			if m := re.FindSubmatch(payload); m != nil {
				if n, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return 0
}
