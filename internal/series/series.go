package series

import (
	"fmt"
	"strings"
)

// LoanType identifies the loan programme a rate series belongs to.
type LoanType string

const (
	LoanConventional LoanType = "conventional"
	LoanFHA          LoanType = "fha"
	LoanVA           LoanType = "va"
	LoanJumbo        LoanType = "jumbo"
)

// Key identifies a tracked rate series by term and loan type.
// It replaces the older string-concatenated form so that writers and
// readers cannot disagree on formatting.
type Key struct {
	TermYears int
	LoanType  LoanType
}

// String renders the legacy textual form used in logs and storage.
func (k Key) String() string {
	return fmt.Sprintf("%dyr_%s", k.TermYears, k.LoanType)
}

// Canonical tracked series.
var (
	Conv30  = Key{TermYears: 30, LoanType: LoanConventional}
	FHA30   = Key{TermYears: 30, LoanType: LoanFHA}
	VA30    = Key{TermYears: 30, LoanType: LoanVA}
	Jumbo30 = Key{TermYears: 30, LoanType: LoanJumbo}
	Conv15  = Key{TermYears: 15, LoanType: LoanConventional}
)

// DefaultKey is the series a client falls back to when their free-text
// loan-type label is not recognised. The fallback is deliberate and
// auditable: an unmapped client still gets tracked against the most
// common programme instead of being silently dropped.
var DefaultKey = Conv30

// Tracked pairs a publisher row label with the series it feeds.
type Tracked struct {
	Label string
	Key   Key
}

// TrackedSeries lists the publisher row labels we scrape, in the order
// they appear on the page.
var TrackedSeries = []Tracked{
	{Label: "30 Yr. Fixed", Key: Conv30},
	{Label: "30 Yr. FHA", Key: FHA30},
	{Label: "30 Yr. VA", Key: VA30},
	{Label: "30 Yr. Jumbo", Key: Jumbo30},
	{Label: "15 Yr. Fixed", Key: Conv15},
}

// labelLookup maps normalised client-entered loan-type labels to series.
var labelLookup = map[string]Key{
	"30yr":         Conv30,
	"30 yr":        Conv30,
	"30 year":      Conv30,
	"30yr fixed":   Conv30,
	"conventional": Conv30,
	"conv":         Conv30,
	"fha":          FHA30,
	"30yr fha":     FHA30,
	"va":           VA30,
	"30yr va":      VA30,
	"jumbo":        Jumbo30,
	"30yr jumbo":   Jumbo30,
	"15yr":         Conv15,
	"15 yr":        Conv15,
	"15 year":      Conv15,
	"15yr fixed":   Conv15,
	"15yr conv":    Conv15,
}

// Label returns the publisher's display label for a tracked series,
// falling back to the canonical string form.
func (k Key) Label() string {
	for _, tracked := range TrackedSeries {
		if tracked.Key == k {
			return tracked.Label
		}
	}
	return k.String()
}

// KeyForLabel resolves a client's free-text loan-type label to a tracked
// series. Unrecognised labels resolve to DefaultKey.
func KeyForLabel(label string) Key {
	normalised := strings.ToLower(strings.TrimSpace(label))
	normalised = strings.Join(strings.Fields(normalised), " ")
	if key, ok := labelLookup[normalised]; ok {
		return key
	}
	return DefaultKey
}
