package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mortgage-rate-alerts/internal/series"
	"mortgage-rate-alerts/internal/storage"
)

var (
	// Matches M/D/YY and M/D/YYYY anywhere in the page text.
	lastUpdatedRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b`)
	percentRe     = regexp.MustCompile(`\d+\.\d+%`)
)

var maxSaneRate = decimal.NewFromInt(20)

// twoDigitYearPivot splits 2-digit years: below it we assume 2000s.
const twoDigitYearPivot = 50

// PublisherOptions parameterise the publisher page scraper.
type PublisherOptions struct {
	URL        string
	Timeout    time.Duration
	UserAgent  string
	SourceName string
}

// Publisher scrapes the external rate publisher's HTML page.
type Publisher struct {
	opts   PublisherOptions
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewPublisher constructs a publisher page scraper.
func NewPublisher(opts PublisherOptions, logger zerolog.Logger) *Publisher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.SourceName == "" {
		opts.SourceName = "publisher"
	}

	return &Publisher{
		opts:   opts,
		logger: logger.With().Str("component", "publisher_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// FetchCurrent downloads the publisher page and extracts one observation
// per tracked series. Missing series are omitted, never fabricated. A
// network failure or a page that yields zero matches returns an empty
// result and an error; the caller must leave the store untouched.
func (p *Publisher) FetchCurrent(ctx context.Context) (FetchResult, error) {
	if p.opts.URL == "" {
		return FetchResult{}, errors.New("publisher url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "ratewatch/1.0")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch publisher page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("publisher responded %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("parse publisher page: %w", err)
	}

	publishedOn := p.publishedDate(doc)
	recordedAt := p.now().UTC()

	observations := p.scanRows(doc, publishedOn, recordedAt)
	if len(observations) == 0 {
		// Layout changed; retry against a flat list of leaf cells.
		p.logger.Warn().Msg("row scan matched nothing, falling back to cell scan")
		observations = p.scanCells(doc, publishedOn, recordedAt)
	}
	if len(observations) == 0 {
		return FetchResult{}, errors.New("no tracked series matched on publisher page")
	}

	p.logger.Info().
		Int("matched", len(observations)).
		Time("published_on", publishedOn).
		Msg("publisher page scraped")

	return FetchResult{PublishedOn: publishedOn, Observations: observations}, nil
}

// publishedDate locates the publisher's "last updated" date anywhere in
// the page text, defaulting to today when absent.
func (p *Publisher) publishedDate(doc *goquery.Document) time.Time {
	today := p.now().UTC().Truncate(24 * time.Hour)
	match := lastUpdatedRe.FindStringSubmatch(doc.Text())
	if match == nil {
		return today
	}

	month, _ := strconv.Atoi(match[1])
	dayOfMonth, _ := strconv.Atoi(match[2])
	year, _ := strconv.Atoi(match[3])
	if year < 100 {
		if year < twoDigitYearPivot {
			year += 2000
		} else {
			year += 1900
		}
	}

	if month < 1 || month > 12 || dayOfMonth < 1 || dayOfMonth > 31 {
		return today
	}
	return time.Date(year, time.Month(month), dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// scanRows walks row-like elements looking for a tracked label, then
// extracts the first percentage in the same row.
func (p *Publisher) scanRows(doc *goquery.Document, publishedOn, recordedAt time.Time) []storage.RateObservation {
	observations := make([]storage.RateObservation, 0, len(series.TrackedSeries))
	matched := make(map[series.Key]bool)

	doc.Find("tr, li, .row").Each(func(_ int, row *goquery.Selection) {
		// Only innermost rows; a container row would pair a label with
		// a percentage from a sibling series.
		if row.Find("tr, li, .row").Length() > 0 {
			return
		}
		text := row.Text()
		for _, tracked := range series.TrackedSeries {
			if matched[tracked.Key] || !strings.Contains(text, tracked.Label) {
				continue
			}
			rate, ok := extractRate(text)
			if !ok {
				continue
			}
			matched[tracked.Key] = true
			observations = append(observations, p.observation(tracked.Key, rate, publishedOn, recordedAt))
		}
	})

	return observations
}

// scanCells is the layout-change fallback: it builds an ordered list of
// leaf text cells and pairs each tracked label with the cell following it.
func (p *Publisher) scanCells(doc *goquery.Document, publishedOn, recordedAt time.Time) []storage.RateObservation {
	cells := make([]string, 0, 64)
	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		if sel.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			cells = append(cells, text)
		}
	})

	observations := make([]storage.RateObservation, 0, len(series.TrackedSeries))
	matched := make(map[series.Key]bool)

	for i := 0; i+1 < len(cells); i++ {
		for _, tracked := range series.TrackedSeries {
			if matched[tracked.Key] || !strings.Contains(cells[i], tracked.Label) {
				continue
			}
			rate, ok := extractRate(cells[i+1])
			if !ok {
				continue
			}
			matched[tracked.Key] = true
			observations = append(observations, p.observation(tracked.Key, rate, publishedOn, recordedAt))
		}
	}

	return observations
}

func (p *Publisher) observation(key series.Key, rate decimal.Decimal, publishedOn, recordedAt time.Time) storage.RateObservation {
	return storage.RateObservation{
		ObservationDate: publishedOn,
		TermYears:       key.TermYears,
		LoanType:        key.LoanType,
		RateValue:       rate,
		RateKind:        "fixed",
		RecordedAt:      recordedAt,
		Source:          p.opts.SourceName,
	}
}

// extractRate pulls the first percentage-formatted number out of a text
// fragment, rejecting values outside the sanity range (0, 20).
func extractRate(text string) (decimal.Decimal, bool) {
	match := percentRe.FindString(text)
	if match == "" {
		return decimal.Decimal{}, false
	}

	value, err := decimal.NewFromString(strings.TrimSuffix(match, "%"))
	if err != nil {
		return decimal.Decimal{}, false
	}
	if !value.IsPositive() || !value.LessThan(maxSaneRate) {
		return decimal.Decimal{}, false
	}
	return value, true
}

var _ RateFetcher = (*Publisher)(nil)
