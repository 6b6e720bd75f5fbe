package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"maps-review-scraper/pkg/types"
)

// StoredReview is a review row as kept in PostgreSQL.
type StoredReview struct {
	ID        int64     `json:"id"`
	PlaceURL  string    `json:"place_url"`
	ScrapedAt time.Time `json:"scraped_at"`
	types.ReviewRecord
}

// ReviewQuery filters and pages ListReviews.
type ReviewQuery struct {
	PlaceURL string
	Page     int
	PageSize int
}

func (q ReviewQuery) normalize() ReviewQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 500 {
		q.PageSize = 50
	}
	return q
}

func (q ReviewQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

// attributesColumn stores Attributes as JSONB.
type attributesColumn types.Attributes

func (a attributesColumn) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *attributesColumn) Scan(value interface{}) error {
	if value == nil {
		*a = attributesColumn{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	m := attributesColumn{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*a = m
	return nil
}
