package scraper

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"maps-review-scraper/pkg/types"
)

var digitsRe = regexp.MustCompile(`\d+`)

// CardSnapshot is the rendered markup of one review card, captured by position.
type CardSnapshot struct {
	Index int
	HTML  string
	// OriginalHTML is the card after its "see original" toggle was clicked.
	// Empty when the card has no toggle or keep-original is off.
	OriginalHTML string
}

// fieldRule is one row of the extraction policy: a required field that is
// missing fails the card, an optional one gets its fallback.
type fieldRule struct {
	name     string
	required bool
	extract  func(card *goquery.Selection, snap CardSnapshot, rec *types.ReviewRecord) (bool, error)
	fallback func(rec *types.ReviewRecord)
}

var fieldRules = []fieldRule{
	{name: "author", required: true, extract: extractAuthor},
	{name: "rating", required: true, extract: extractRating},
	{name: "date", required: true, extract: extractDate},
	{name: "likes", extract: extractLikes, fallback: func(rec *types.ReviewRecord) { rec.Likes = 0 }},
	{name: "comment", extract: extractComment, fallback: func(rec *types.ReviewRecord) { rec.Comment = nil }},
	{name: "extra", extract: extractExtra, fallback: func(rec *types.ReviewRecord) { rec.Extra = types.Attributes{} }},
	{name: "original_comment", extract: extractOriginal, fallback: func(rec *types.ReviewRecord) { rec.OriginalComment = rec.Comment }},
	{name: "review_id", extract: extractReviewID, fallback: func(rec *types.ReviewRecord) { rec.ReviewID = fingerprint(rec) }},
}

// Parser turns card snapshots into review records.
type Parser struct {
	keepOriginal bool
}

func NewParser(keepOriginal bool) *Parser {
	return &Parser{keepOriginal: keepOriginal}
}

// Parse extracts one record. It either returns a complete record or an error;
// a missing required field yields ErrElementNotFound.
func (p *Parser) Parse(snap CardSnapshot) (types.ReviewRecord, error) {
	card, err := cardRoot(snap.HTML)
	if err != nil {
		return types.ReviewRecord{}, fmt.Errorf("card %d: %w", snap.Index, err)
	}

	var rec types.ReviewRecord
	for _, rule := range fieldRules {
		if rule.name == "original_comment" && !p.keepOriginal {
			continue
		}
		found, err := rule.extract(card, snap, &rec)
		if err != nil {
			return types.ReviewRecord{}, fmt.Errorf("card %d: field %s: %w", snap.Index, rule.name, err)
		}
		if found {
			continue
		}
		if rule.required {
			return types.ReviewRecord{}, fmt.Errorf("card %d: field %s: %w", snap.Index, rule.name, ErrElementNotFound)
		}
		rule.fallback(&rec)
	}
	return rec, nil
}

func cardRoot(html string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse card HTML: %w", err)
	}
	card := doc.Find(CardSelector).First()
	if card.Length() == 0 {
		return nil, fmt.Errorf("card root %s: %w", CardSelector, ErrElementNotFound)
	}
	return card, nil
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

func extractAuthor(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	author := text(card.Find(AuthorSelector).First())
	rec.Author = author
	return author != "", nil
}

func extractRating(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	stars := card.Find(StarsSelector).First()
	if stars.Length() == 0 {
		return false, nil
	}

	var rating int
	if icons := stars.Find(StarSelector); icons.Length() > 0 {
		rating = icons.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.HasClass(FilledStarClass)
		}).Length()
	} else {
		// newer markup only carries an aria-label such as "4 stars"
		label, _ := stars.Attr("aria-label")
		m := digitsRe.FindString(label)
		if m == "" {
			return false, fmt.Errorf("no star icons and no rating in label %q", label)
		}
		rating, _ = strconv.Atoi(m)
	}

	if rating < 0 || rating > 5 {
		return false, fmt.Errorf("rating %d out of range", rating)
	}
	rec.Rating = rating
	return true, nil
}

func extractDate(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	date := text(card.Find(DateSelector).First())
	rec.Date = date
	return date != "", nil
}

func extractLikes(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	likes := card.Find(LikesSelector).First()
	if likes.Length() == 0 {
		return false, nil
	}
	m := digitsRe.FindString(strings.ReplaceAll(text(likes), ",", ""))
	if m == "" {
		return false, nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return false, nil
	}
	rec.Likes = n
	return true, nil
}

func commentIn(card *goquery.Selection) (*string, bool) {
	section := card.Find(CommentSection).First()
	if section.Length() == 0 {
		return nil, false
	}
	body := section.Find(CommentText).First()
	if body.Length() == 0 {
		return nil, false
	}
	c := text(body)
	return &c, true
}

func extractComment(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	c, ok := commentIn(card)
	rec.Comment = c
	return ok, nil
}

func extractExtra(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	section := card.Find(ExtraSection).First()
	if section.Length() == 0 {
		return false, nil
	}
	spans := section.Find(ExtraSpan)
	attrs := types.Attributes{}
	// spans alternate key, value; a trailing key without value is dropped
	for i := 0; i+1 < spans.Length(); i += 2 {
		key := strings.TrimSuffix(text(spans.Eq(i)), ":")
		attrs[strings.TrimSpace(key)] = text(spans.Eq(i + 1))
	}
	rec.Extra = attrs
	return true, nil
}

func extractOriginal(_ *goquery.Selection, snap CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	if snap.OriginalHTML == "" {
		return false, nil
	}
	card, err := cardRoot(snap.OriginalHTML)
	if err != nil {
		return false, fmt.Errorf("original: %w", err)
	}
	c, ok := commentIn(card)
	if !ok {
		return false, nil
	}
	rec.OriginalComment = c
	return true, nil
}

func extractReviewID(card *goquery.Selection, _ CardSnapshot, rec *types.ReviewRecord) (bool, error) {
	id, ok := card.Attr(ReviewIDAttr)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return false, nil
	}
	rec.ReviewID = id
	return true, nil
}

// fingerprint identifies a card without a review id attribute.
func fingerprint(rec *types.ReviewRecord) string {
	sum := sha1.Sum([]byte(rec.Author + "\x00" + rec.Date + "\x00" + rec.CommentText()))
	return hex.EncodeToString(sum[:])
}
