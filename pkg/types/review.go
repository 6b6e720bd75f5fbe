package types

import (
	"fmt"
	"sort"
	"strings"
)

// ReviewRecord is one parsed review card.
type ReviewRecord struct {
	ReviewID        string     `json:"review_id"`
	Author          string     `json:"author"`
	Rating          int        `json:"rating"`
	Date            string     `json:"date"` // relative, e.g. "3 weeks ago"
	Likes           int        `json:"likes"`
	Comment         *string    `json:"comment"`
	OriginalComment *string    `json:"original_comment,omitempty"`
	Extra           Attributes `json:"extra"`
}

// CommentText returns the comment or "" when absent.
func (r ReviewRecord) CommentText() string {
	if r.Comment == nil {
		return ""
	}
	return *r.Comment
}

// OriginalText returns the original-language comment or "" when absent.
func (r ReviewRecord) OriginalText() string {
	if r.OriginalComment == nil {
		return ""
	}
	return *r.OriginalComment
}

func (r ReviewRecord) String() string {
	return fmt.Sprintf("%s (%d/5, %s, %d likes)", r.Author, r.Rating, r.Date, r.Likes)
}

// Attributes holds venue-specific review attributes such as "Food: 5".
type Attributes map[string]string

const (
	attrPairSep  = ','
	attrKVSep    = ':'
	attrEscapeCh = '\\'
)

// Flatten renders the attributes as "key:value" pairs sorted by key and
// joined by commas. Separators and backslashes inside keys or values are
// escaped so ParseAttributes can reconstruct the exact map.
func (a Attributes) Flatten() string {
	if len(a) == 0 {
		return ""
	}

	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(attrPairSep)
		}
		writeEscaped(&b, k)
		b.WriteByte(attrKVSep)
		writeEscaped(&b, a[k])
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for _, r := range s {
		if r == attrPairSep || r == attrKVSep || r == attrEscapeCh {
			b.WriteByte(attrEscapeCh)
		}
		b.WriteRune(r)
	}
}

// ParseAttributes is the inverse of Attributes.Flatten.
func ParseAttributes(s string) (Attributes, error) {
	attrs := Attributes{}
	if s == "" {
		return attrs, nil
	}

	var (
		key, cur strings.Builder
		inValue  bool
		escaped  bool
	)
	flush := func() error {
		if !inValue {
			return fmt.Errorf("attribute %q has no value separator", cur.String())
		}
		attrs[key.String()] = cur.String()
		key.Reset()
		cur.Reset()
		inValue = false
		return nil
	}

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == attrEscapeCh:
			escaped = true
		case r == attrKVSep && !inValue:
			key.WriteString(cur.String())
			cur.Reset()
			inValue = true
		case r == attrKVSep:
			return nil, fmt.Errorf("unescaped %q in value of attribute %q", r, key.String())
		case r == attrPairSep:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape at end of %q", s)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// ScrapeResult is the outcome of one listing scrape.
type ScrapeResult struct {
	PlaceURL     string         `json:"place_url"`
	TotalReviews int            `json:"total_reviews"`
	Reviews      []ReviewRecord `json:"reviews"`
	Passes       int            `json:"passes"`
	Retries      int            `json:"retries"`
	Duplicates   int            `json:"duplicates"`
}
