// Package extract turns a rendered quote page into an Observation, it never
// performs io on its own.
package extract

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

const (
	report_extractor_parse_page = "extractor.parse-page"
	report_extractor_parse_aum  = "extractor.parse-aum"
)

const (
	AUMSelector  = "dt.ico_data.col_aum"
	AsOfSelector = "dt.ico_data.col_aum_date"

	currencyPrefix = "US$"
	millionSuffix  = "M"
	asOfPrefix     = "as at "
	// AsOfLayout is the layout of the date after the "as at " prefix, ex. "18 Oct 2026".
	AsOfLayout = "2 Jan 2006"
)

var (
	// ErrNoSuffix is returned when the AUM text is not expressed in millions,
	// the value is treated as missing but the page is not considered broken.
	ErrNoSuffix = errors.New("aum is not expressed in millions")
	// ErrMalformedNumber is returned when the AUM text has the expected shape but
	// the amount itself cannot be parsed.
	ErrMalformedNumber = errors.New("malformed aum amount")
	// ErrNoElement is reported when the page does not contain the AUM element.
	ErrNoElement = errors.New("aum element not found")
)

var million = decimal.NewFromInt(1_000_000)

// ParseAUM converts text like "US$123.4M" into 123400000.
func ParseAUM(text string) (float64, error) {
	text = strings.TrimSpace(text)
	amount := strings.TrimPrefix(text, currencyPrefix)
	if !strings.HasSuffix(amount, millionSuffix) {
		return 0, fmt.Errorf("%w: %q", ErrNoSuffix, text)
	}
	amount = strings.TrimSuffix(amount, millionSuffix)
	amount = strings.ReplaceAll(amount, ",", "")
	amount = strings.TrimSpace(amount)

	value, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %s", ErrMalformedNumber, text, err.Error())
	}
	result, _ := value.Mul(million).Float64()
	return result, nil
}

var asOfPrefixRegex = regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(asOfPrefix))

// ParseAsOf parses the "last updated" text of a quote page, ex. "as at 18 Oct 2026".
func ParseAsOf(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	text = asOfPrefixRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	return time.ParseInLocation(AsOfLayout, text, loc)
}

// Observation is the outcome of extracting a single quote page.
//
// AUM is invalid when the value is missing, this happens either because the page
// published it in an unexpected format, or because extraction failed altogether in
// which case Err is set and AsOf is empty as well.
type Observation struct {
	Identifier string
	AUM        sql.NullFloat64
	AsOf       string
	Err        error
}

// Failed observations carry no usable fields.
func (o Observation) Failed() bool {
	return o.Err != nil
}

// Failure creates the Observation of a page that could not be fetched or parsed.
func Failure(identifier string, err error) Observation {
	return Observation{Identifier: identifier, Err: err}
}

type Extractor struct {
	tel telemetry.API
}

func NewExtractor(tel telemetry.API) Extractor {
	assert.NotNil(tel)
	return Extractor{tel: telemetry.NewScopedAPI("extract", tel)}
}

// Extract reads the AUM and as-of fields out of a rendered quote page. Failures
// are reported and folded into the returned Observation, never returned.
func (e Extractor) Extract(identifier, page string) Observation {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		err = fmt.Errorf("parse html: %w", err)
		e.tel.ReportBroken(report_extractor_parse_page, err, identifier)
		return Failure(identifier, err)
	}

	obs := Observation{Identifier: identifier}

	aumText, found := htmlutil.FirstText(doc, AUMSelector)
	if !found {
		e.tel.ReportWarning(report_extractor_parse_aum, ErrNoElement, identifier, AUMSelector)
	} else {
		value, err := ParseAUM(aumText)
		switch {
		case errors.Is(err, ErrNoSuffix):
			e.tel.ReportWarning(report_extractor_parse_aum, err, identifier)
		case err != nil:
			e.tel.ReportBroken(report_extractor_parse_aum, err, identifier)
			return Failure(identifier, err)
		default:
			obs.AUM = sql.NullFloat64{Float64: value, Valid: true}
		}
	}

	asOfText, found := htmlutil.FirstText(doc, AsOfSelector)
	if found {
		obs.AsOf = asOfText
	}

	return obs
}
