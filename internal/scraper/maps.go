package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/pkg/types"
)

var nonDigitRe = regexp.MustCompile(`\D`)

// Session is one browser driving one listing page.
type Session interface {
	Open(ctx context.Context, url string) error
	// AcceptCookies returns ErrElementNotFound when no consent wall is shown.
	AcceptCookies(ctx context.Context) error
	TotalReviewsText(ctx context.Context) (string, error)
	SortByNewest(ctx context.Context) error
	Reviews() ReviewList
	Close()
}

// BrowserOptions are shared by every Session implementation.
type BrowserOptions struct {
	Headless     bool
	Language     string
	UserAgent    string
	KeepOriginal bool
	WaitTimeout  time.Duration
	ClickDelay   time.Duration
}

type ReviewScraper struct {
	session   Session
	collector *Collector
	baseURL   string
	logger    *logrus.Logger
}

// NewReviewScraper wires a session to a collector. baseURL, when set, is
// loaded first to get past the cookie consent wall.
func NewReviewScraper(session Session, collector *Collector, baseURL string, logger *logrus.Logger) *ReviewScraper {
	return &ReviewScraper{
		session:   session,
		collector: collector,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// Scrape collects every review of the listing at placeURL, newest first.
// A listing without reviews returns ErrNoReviews together with a result.
func (rs *ReviewScraper) Scrape(ctx context.Context, placeURL string) (*types.ScrapeResult, error) {
	rs.logger.Infof("Scraping %s ...", placeURL)
	start := time.Now()

	if rs.baseURL != "" {
		if err := rs.session.Open(ctx, rs.baseURL); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", rs.baseURL, err)
		}
		if err := rs.session.AcceptCookies(ctx); err != nil {
			if !errors.Is(err, ErrElementNotFound) {
				return nil, fmt.Errorf("failed to accept cookies: %w", err)
			}
			rs.logger.Warn("No cookie consent shown, continuing")
		} else {
			rs.logger.Info("Cookies accepted")
		}
	}

	if err := rs.session.Open(ctx, placeURL); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", placeURL, err)
	}

	countText, err := rs.session.TotalReviewsText(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read review count: %w", err)
	}
	total, err := ParseReviewCount(countText)
	if err != nil {
		return nil, err
	}
	rs.logger.Infof("Connected, total number of reviews: %d", total)

	result := &types.ScrapeResult{PlaceURL: placeURL, TotalReviews: total}
	if total == 0 {
		rs.logger.Warn("No reviews were found")
		return result, ErrNoReviews
	}

	if err := rs.session.SortByNewest(ctx); err != nil {
		return nil, fmt.Errorf("failed to sort reviews by newest: %w", err)
	}

	records, stats, err := rs.collector.Collect(ctx, rs.session.Reviews(), total)
	result.Passes = stats.Passes
	result.Retries = stats.Retries
	result.Duplicates = stats.Duplicates
	if err != nil {
		return result, err
	}
	result.Reviews = records

	rs.logger.Infof("Scraping completed in %v (%d passes, %d retries)", time.Since(start).Round(time.Millisecond), stats.Passes, stats.Retries)
	return result, nil
}

// ParseReviewCount reads the number out of a count label like "1,204 reviews".
func ParseReviewCount(text string) (int, error) {
	digits := nonDigitRe.ReplaceAllString(text, "")
	if digits == "" {
		return 0, fmt.Errorf("review count %q: %w", text, ErrElementNotFound)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid review count %q: %w", text, err)
	}
	return n, nil
}

// PlaceURL checks that raw points at a maps place page and pins its
// interface language with the hl parameter.
func PlaceURL(raw, language string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid listing URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid listing URL %q: scheme must be http or https", raw)
	}
	if !strings.Contains(u.Path, "/place/") {
		return "", fmt.Errorf("invalid listing URL %q: not a place page", raw)
	}
	if language != "" {
		q := u.Query()
		q.Set("hl", language)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
