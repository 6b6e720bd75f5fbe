package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	countText  string
	consentErr error
	sortErr    error
	list       *fakeList

	opened []string
	sorted bool
	closed int
}

func (f *fakeSession) Open(_ context.Context, url string) error {
	f.opened = append(f.opened, url)
	return nil
}

func (f *fakeSession) AcceptCookies(context.Context) error { return f.consentErr }

func (f *fakeSession) TotalReviewsText(context.Context) (string, error) {
	if f.countText == "" {
		return "", fmt.Errorf("total reviews: %w", ErrElementNotFound)
	}
	return f.countText, nil
}

func (f *fakeSession) SortByNewest(context.Context) error {
	f.sorted = true
	return f.sortErr
}

func (f *fakeSession) Reviews() ReviewList { return f.list }

func (f *fakeSession) Close() { f.closed++ }

const testPlace = "https://www.google.com/maps/place/Cafe"

func TestScrapeCollectsAllReviews(t *testing.T) {
	session := &fakeSession{
		countText:  "7 reviews",
		consentErr: fmt.Errorf("cookie consent button: %w", ErrElementNotFound),
		list:       &fakeList{cards: simpleCards(7), rendered: 3, growBy: 3},
	}
	rs := NewReviewScraper(session, fastCollector(false), "https://www.google.com/maps", quietLogger())

	res, err := rs.Scrape(context.Background(), testPlace)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://www.google.com/maps", testPlace}, session.opened)
	assert.True(t, session.sorted)
	assert.Equal(t, 7, res.TotalReviews)
	assert.Len(t, res.Reviews, 7)
	assert.Equal(t, testPlace, res.PlaceURL)
	assert.Equal(t, 3, res.Passes)
}

func TestScrapeZeroReviewsIsNoData(t *testing.T) {
	session := &fakeSession{countText: "0 reviews", list: &fakeList{}}
	rs := NewReviewScraper(session, fastCollector(false), "", quietLogger())

	res, err := rs.Scrape(context.Background(), testPlace)
	assert.ErrorIs(t, err, ErrNoReviews)
	require.NotNil(t, res)
	assert.Empty(t, res.Reviews)
	assert.False(t, session.sorted, "no sorting when there is nothing to read")
	assert.Equal(t, []string{testPlace}, session.opened)
}

func TestScrapeMissingCountIsFatal(t *testing.T) {
	session := &fakeSession{list: &fakeList{}}
	rs := NewReviewScraper(session, fastCollector(false), "", quietLogger())

	res, err := rs.Scrape(context.Background(), testPlace)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.False(t, errors.Is(err, ErrNoReviews))
}

func TestScrapeConsentFailureOtherThanMissing(t *testing.T) {
	session := &fakeSession{countText: "1", consentErr: errors.New("browser crashed"), list: &fakeList{}}
	rs := NewReviewScraper(session, fastCollector(false), "https://www.google.com/maps", quietLogger())

	_, err := rs.Scrape(context.Background(), testPlace)
	assert.ErrorContains(t, err, "browser crashed")
}

func TestScrapeCollectorFailureKeepsStats(t *testing.T) {
	session := &fakeSession{countText: "10", list: &fakeList{cards: simpleCards(4), rendered: 4}}
	rs := NewReviewScraper(session, fastCollector(false), "", quietLogger())

	res, err := rs.Scrape(context.Background(), testPlace)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	require.NotNil(t, res)
	assert.Nil(t, res.Reviews)
	assert.Equal(t, 3, res.Retries)
}

func TestParseReviewCount(t *testing.T) {
	tests := []struct {
		text    string
		want    int
		wantErr bool
	}{
		{"1,204 reviews", 1204, false},
		{"1.204 avis", 1204, false},
		{"(87)", 87, false},
		{"0 reviews", 0, false},
		{"no reviews", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseReviewCount(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrElementNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlaceURL(t *testing.T) {
	got, err := PlaceURL("https://www.google.com/maps/place/Cafe+Rose/@48.8,2.3,17z", "fr")
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/maps/place/Cafe+Rose/@48.8,2.3,17z?hl=fr", got)

	got, err = PlaceURL("https://www.google.com/maps/place/X?hl=en&entry=ttu", "de")
	require.NoError(t, err)
	assert.Contains(t, got, "hl=de")
	assert.NotContains(t, got, "hl=en")

	_, err = PlaceURL("ftp://www.google.com/maps/place/X", "en")
	assert.Error(t, err)

	_, err = PlaceURL("https://www.google.com/search?q=cafe", "en")
	assert.ErrorContains(t, err, "not a place page")
}

func TestSeleniumErrMapping(t *testing.T) {
	assert.Nil(t, seleniumErr(nil))
	assert.ErrorIs(t, seleniumErr(errors.New("stale element reference: element is not attached")), ErrTransientStale)
	assert.ErrorIs(t, seleniumErr(errors.New("no such element: Unable to locate element")), ErrElementNotFound)
	assert.ErrorIs(t, seleniumErr(errors.New("timeout after 10s")), ErrWaitTimeout)

	other := errors.New("session deleted")
	assert.Equal(t, other, seleniumErr(other))
}

func TestSameCard(t *testing.T) {
	first := cardState{Found: true, ID: "a"}
	assert.NoError(t, sameCard(0, first, cardState{Found: true, ID: "a"}))
	assert.ErrorIs(t, sameCard(0, first, cardState{Found: true, ID: "b"}), ErrTransientStale)
	assert.ErrorIs(t, sameCard(0, first, cardState{}), ErrTransientStale)
}
