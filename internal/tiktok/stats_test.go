package tiktok

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"tokstat/internal/track"
)

func TestExtractStatsNestedShape(t *testing.T) {
	payload := []byte(`{"data":{"stats":{"playCount":1000,"diggCount":5}}}`)
	m, ok := ExtractStats(payload)
	if !ok {
		t.Fatalf("expected stats")
	}
	want := track.MetricSnapshot{Views: 1000, Likes: 5}
	if m != want {
		t.Fatalf("got %+v, want %+v", m, want)
	}
}

func TestExtractStatsTopLevelShape(t *testing.T) {
	payload := []byte(`{"stats":{"playCount":"123456","shareCount":7,"collectCount":12}}`)
	m, ok := ExtractStats(payload)
	if !ok {
		t.Fatalf("expected stats")
	}
	if m.Views != 123456 || m.Shares != 7 || m.Favorites != 12 || m.Likes != 0 {
		t.Fatalf("got %+v", m)
	}
}

func TestExtractStatsItemInfoShape(t *testing.T) {
	payload := []byte(`{"itemInfo":{"itemStruct":{"stats":{"playCount":42,"diggCount":1,"shareCount":0,"collectCount":0}}}}`)
	m, ok := ExtractStats(payload)
	if !ok || m.Views != 42 || m.Likes != 1 {
		t.Fatalf("got (%+v, %v)", m, ok)
	}
}

func TestExtractStatsSnakeCaseSynonyms(t *testing.T) {
	payload := []byte(`{"data":{"aweme_detail":{"statistics":{"play_count":900,"digg_count":10,"share_count":2,"collect_count":3}}}}`)
	m, ok := ExtractStats(payload)
	if !ok {
		t.Fatalf("expected stats")
	}
	want := track.MetricSnapshot{Views: 900, Likes: 10, Shares: 2, Favorites: 3}
	if m != want {
		t.Fatalf("got %+v, want %+v", m, want)
	}
}

func TestExtractStatsSynonymPriority(t *testing.T) {
	// playCount wins over views when both are present.
	payload := []byte(`{"stats":{"playCount":100,"views":999}}`)
	m, ok := ExtractStats(payload)
	if !ok || m.Views != 100 {
		t.Fatalf("got (%+v, %v), want views=100", m, ok)
	}
}

func TestExtractStatsValidityGate(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"stats":{"playCount":0,"diggCount":0,"shareCount":0,"collectCount":0}}`),
		[]byte(`{"data":{"stats":{"playCount":0}}}`),
		[]byte(`{"itemInfo":{"itemStruct":{"stats":{"views":0,"likes":0}}}}`),
		[]byte(`{"unrelated":true}`),
		[]byte(``),
		[]byte(`not json at all`),
	}
	for _, p := range payloads {
		if m, ok := ExtractStats(p); ok {
			t.Fatalf("payload %q: got %+v, want absent", p, m)
		}
	}
}

func TestExtractStatsDeepSearch(t *testing.T) {
	// Unknown wrapper shape: counters live somewhere under an undocumented key.
	payload := []byte(`{"resp":{"items":[{"meta":{"stats_v2":{"playCount":777,"diggCount":3}}}]}}`)
	m, ok := ExtractStats(payload)
	if !ok || m.Views != 777 || m.Likes != 3 {
		t.Fatalf("got (%+v, %v)", m, ok)
	}
}

func TestExtractStatsDeepSearchDepthBound(t *testing.T) {
	// Counters buried deeper than the search bound must not be found.
	inner := `{"playCount":5}`
	for i := 0; i < 15; i++ {
		inner = fmt.Sprintf(`{"level%d":%s}`, i, inner)
	}
	if m, ok := ExtractStats([]byte(inner)); ok {
		t.Fatalf("depth bound violated: got %+v", m)
	}
}

func TestExtractStatsAdversarialBreadth(t *testing.T) {
	// A wide object must not cost unbounded work nor panic; counters beyond
	// the per-level key budget may legitimately be missed.
	var b strings.Builder
	b.WriteString(`{`)
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, `"k%04d":{"x":1},`, i)
	}
	b.WriteString(`"last":true}`)
	_, _ = ExtractStats([]byte(b.String())) // must terminate quickly
}

func TestExtractStatsSigiStateHTML(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>video</title></head><body>
<script id="SIGI_STATE" type="application/json">{"ItemModule":{"7234":{"stats":{"playCount":250000,"diggCount":1200,"shareCount":80,"collectCount":40}}}}</script>
</body></html>`
	m, ok := ExtractStats([]byte(page))
	if !ok {
		t.Fatalf("expected stats from embedded SIGI_STATE")
	}
	want := track.MetricSnapshot{Views: 250000, Likes: 1200, Shares: 80, Favorites: 40}
	if m != want {
		t.Fatalf("got %+v, want %+v", m, want)
	}
}

func TestExtractStatsUniversalDataHTML(t *testing.T) {
	page := `<html><script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">{"__DEFAULT_SCOPE__":{"webapp.video-detail":{"itemInfo":{"itemStruct":{"stats":{"playCount":"98765","diggCount":"432"}}}}}}</script></html>`
	m, ok := ExtractStats([]byte(page))
	if !ok || m.Views != 98765 || m.Likes != 432 {
		t.Fatalf("got (%+v, %v)", m, ok)
	}
}

func TestExtractStatsSkipsBrokenEmbeddedJSON(t *testing.T) {
	// First marker's blob is truncated mid-object; the second parses.
	page := `<script id="SIGI_STATE" type="application/json">{"broken":{"x":</script>
<script id="__UNIVERSAL_DATA_FOR_REHYDRATION__" type="application/json">{"stats":{"playCount":11}}</script>`
	m, ok := ExtractStats([]byte(page))
	if !ok || m.Views != 11 {
		t.Fatalf("got (%+v, %v)", m, ok)
	}
}

func TestExtractStatsTextualFallback(t *testing.T) {
	// No parseable JSON anywhere; loose per-counter patterns still apply.
	page := `<html><script>var x = playCount: '52000'; var y = diggCount: '10';</script></html>`
	m, ok := ExtractStats([]byte(page))
	if !ok || m.Views != 52000 || m.Likes != 10 {
		t.Fatalf("got (%+v, %v)", m, ok)
	}
}

func TestExtractStatsTextualFallbackAllZero(t *testing.T) {
	page := `<html>playCount: '0' diggCount: '0'</html>`
	if m, ok := ExtractStats([]byte(page)); ok {
		t.Fatalf("got %+v, want absent (all-zero gate)", m)
	}
}

func TestBalancedObjectHonorsStrings(t *testing.T) {
	in := []byte(`{"desc":"has a } brace and an \" escape","n":1} trailing`)
	got := balancedObject(in)
	if got == nil {
		t.Fatalf("balancedObject returned nil")
	}
	if !bytes.HasSuffix(got, []byte(`"n":1}`)) {
		t.Fatalf("got %q", got)
	}
}
