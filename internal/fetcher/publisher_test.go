package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

const tablePage = `<html><body>
<p>Rates last updated 8/29/26</p>
<table>
<tr><td>30 Yr. Fixed</td><td>6.45%</td><td>+0.02</td></tr>
<tr><td>30 Yr. FHA</td><td>6.12%</td><td>-0.01</td></tr>
<tr><td>30 Yr. VA</td><td>6.05%</td><td>0.00</td></tr>
<tr><td>30 Yr. Jumbo</td><td>6.88%</td><td>+0.03</td></tr>
<tr><td>15 Yr. Fixed</td><td>5.79%</td><td>-0.02</td></tr>
</table>
</body></html>`

// Same data, but without any row-like markup: labels and values are
// adjacent leaf cells inside plain divs.
const flatPage = `<html><body>
<div><span>Rates last updated 8/29/26</span></div>
<div><span>30 Yr. Fixed</span><span>6.45%</span></div>
<div><span>15 Yr. Fixed</span><span>5.79%</span></div>
</body></html>`

func servePage(t *testing.T, page string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
}

func newTestPublisher(url string) *Publisher {
	return NewPublisher(PublisherOptions{
		URL:        url,
		Timeout:    time.Second,
		UserAgent:  "test",
		SourceName: "test-publisher",
	}, noopLogger())
}

func TestFetchCurrentRowScan(t *testing.T) {
	srv := servePage(t, tablePage)
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}

	if len(result.Observations) != 5 {
		t.Fatalf("expected 5 observations, got %d", len(result.Observations))
	}

	want := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	if !result.PublishedOn.Equal(want) {
		t.Fatalf("expected published date %s, got %s", want, result.PublishedOn)
	}

	byKey := map[series.Key]string{}
	for _, obs := range result.Observations {
		byKey[obs.Key()] = obs.RateValue.String()
		if !obs.ObservationDate.Equal(want) {
			t.Fatalf("observation date should match published date")
		}
		if obs.Source != "test-publisher" {
			t.Fatalf("unexpected source %q", obs.Source)
		}
	}
	if byKey[series.Conv30] != "6.45" {
		t.Fatalf("expected 6.45 for 30yr conventional, got %s", byKey[series.Conv30])
	}
	if byKey[series.Conv15] != "5.79" {
		t.Fatalf("expected 5.79 for 15yr conventional, got %s", byKey[series.Conv15])
	}
}

func TestFetchCurrentFlatFallback(t *testing.T) {
	srv := servePage(t, flatPage)
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("fallback scan should succeed: %v", err)
	}

	if len(result.Observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(result.Observations))
	}
	for _, obs := range result.Observations {
		if obs.Key() == series.Conv30 && obs.RateValue.String() != "6.45" {
			t.Fatalf("fallback should extract 6.45, got %s", obs.RateValue)
		}
	}
}

func TestFetchCurrentZeroMatches(t *testing.T) {
	srv := servePage(t, "<html><body><p>maintenance</p></body></html>")
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).FetchCurrent(context.Background())
	if err == nil {
		t.Fatal("零匹配应返回错误")
	}
	if len(result.Observations) != 0 {
		t.Fatal("failed scrape must not report observations")
	}
}

func TestFetchCurrentHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := newTestPublisher(srv.URL).FetchCurrent(context.Background()); err == nil {
		t.Fatal("HTTP 503 应返回错误")
	}
}

func TestFetchCurrentMissingURL(t *testing.T) {
	p := NewPublisher(PublisherOptions{}, noopLogger())
	if _, err := p.FetchCurrent(context.Background()); err == nil {
		t.Fatal("missing url should error")
	}
}

func TestFetchCurrentRejectsInsaneValues(t *testing.T) {
	page := `<html><body><table>
<tr><td>30 Yr. Fixed</td><td>45.10%</td></tr>
<tr><td>15 Yr. Fixed</td><td>5.79%</td></tr>
</table></body></html>`
	srv := servePage(t, page)
	defer srv.Close()

	result, err := newTestPublisher(srv.URL).FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(result.Observations) != 1 {
		t.Fatalf("out-of-range value should be dropped, got %d observations", len(result.Observations))
	}
	if result.Observations[0].Key() != series.Conv15 {
		t.Fatalf("surviving observation should be the 15yr series")
	}
}

func TestPublishedDatePivot(t *testing.T) {
	p := NewPublisher(PublisherOptions{URL: "http://unused"}, noopLogger())

	cases := []struct {
		text string
		want time.Time
	}{
		{"updated 1/5/49", time.Date(2049, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"updated 1/5/50", time.Date(1950, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"updated 12/31/2025", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		doc := mustDoc(t, "<html><body><p>"+tc.text+"</p></body></html>")
		if got := p.publishedDate(doc); !got.Equal(tc.want) {
			t.Fatalf("text %q: expected %s, got %s", tc.text, tc.want, got)
		}
	}
}

func TestPublishedDateDefaultsToToday(t *testing.T) {
	p := NewPublisher(PublisherOptions{URL: "http://unused"}, noopLogger())
	p.now = func() time.Time {
		return time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	}

	doc := mustDoc(t, "<html><body><p>no date here</p></body></html>")
	want := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if got := p.publishedDate(doc); !got.Equal(want) {
		t.Fatalf("expected today %s, got %s", want, got)
	}
}

func TestExtractRate(t *testing.T) {
	if _, ok := extractRate("no number"); ok {
		t.Fatal("text without a percentage should not parse")
	}
	if _, ok := extractRate("0.00%"); ok {
		t.Fatal("zero is outside the sanity range")
	}
	rate, ok := extractRate("now 6.45% apr")
	if !ok || !rate.Equal(decimal.RequireFromString("6.45")) {
		t.Fatalf("expected 6.45, got %s (ok=%v)", rate, ok)
	}
}
