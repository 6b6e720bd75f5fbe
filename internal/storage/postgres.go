package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/pkg/types"
)

const undefinedTable = "42P01"

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
	id               BIGSERIAL PRIMARY KEY,
	place_url        TEXT        NOT NULL,
	review_id        TEXT        NOT NULL,
	author           TEXT        NOT NULL,
	rating           SMALLINT    NOT NULL CHECK (rating BETWEEN 0 AND 5),
	date             TEXT        NOT NULL,
	likes            INTEGER     NOT NULL DEFAULT 0,
	comment          TEXT,
	original_comment TEXT,
	extra            JSONB       NOT NULL DEFAULT '{}',
	position         INTEGER     NOT NULL,
	scraped_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (place_url, review_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_place  ON reviews (place_url);
CREATE INDEX IF NOT EXISTS idx_reviews_rating ON reviews (rating);
`

// PostgresSink upserts reviews into PostgreSQL and serves them back to the API.
type PostgresSink struct {
	conn   *sql.DB
	logger *logrus.Logger
}

func NewPostgresSink(cfg config.DatabaseConfig, logger *logrus.Logger) (*PostgresSink, error) {
	logger.Infof("Connecting to database: host=%s port=%d dbname=%s user=%s", cfg.Host, cfg.Port, cfg.Name, cfg.User)

	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established")
	return &PostgresSink{conn: conn, logger: logger}, nil
}

// CreateTable creates the reviews table and its indexes if missing.
func (s *PostgresSink) CreateTable(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.logger.Info("Table 'reviews' is ready")
	return nil
}

// Write stores records in one transaction. Reviews already stored for the
// place are refreshed in place.
func (s *PostgresSink) Write(ctx context.Context, placeURL string, records []types.ReviewRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (
			place_url, review_id, author, rating, date, likes,
			comment, original_comment, extra, position, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (place_url, review_id) DO UPDATE SET
			author = EXCLUDED.author,
			rating = EXCLUDED.rating,
			date = EXCLUDED.date,
			likes = EXCLUDED.likes,
			comment = EXCLUDED.comment,
			original_comment = EXCLUDED.original_comment,
			extra = EXCLUDED.extra,
			position = EXCLUDED.position,
			scraped_at = EXCLUDED.scraped_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, r := range records {
		if _, err = stmt.ExecContext(ctx,
			placeURL, r.ReviewID, r.Author, r.Rating, r.Date, r.Likes,
			r.Comment, r.OriginalComment, attributesColumn(r.Extra), i, now,
		); err != nil {
			return fmt.Errorf("failed to save review %s: %w", r.ReviewID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Infof("Saved %d reviews for %s to PostgreSQL", len(records), placeURL)
	return nil
}

// ListReviews returns one page of stored reviews, newest scrape first, in
// the order they were collected, plus the number of matching rows.
func (s *PostgresSink) ListReviews(ctx context.Context, q ReviewQuery) ([]StoredReview, int, error) {
	q = q.normalize()

	var total int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE ($1::text = '' OR place_url = $1)`, q.PlaceURL,
	).Scan(&total)
	if err != nil {
		if isUndefinedTable(err) {
			return []StoredReview{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to count reviews: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, place_url, review_id, author, rating, date, likes,
		       comment, original_comment, extra, scraped_at
		FROM reviews
		WHERE ($1::text = '' OR place_url = $1)
		ORDER BY scraped_at DESC, place_url, position
		LIMIT $2 OFFSET $3`,
		q.PlaceURL, q.PageSize, q.offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	reviews := []StoredReview{}
	for rows.Next() {
		var (
			r        StoredReview
			comment  sql.NullString
			original sql.NullString
			extra    attributesColumn
		)
		if err := rows.Scan(
			&r.ID, &r.PlaceURL, &r.ReviewID, &r.Author, &r.Rating, &r.Date, &r.Likes,
			&comment, &original, &extra, &r.ScrapedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan review: %w", err)
		}
		r.Comment = nullString(comment)
		r.OriginalComment = nullString(original)
		r.Extra = types.Attributes(extra)
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read reviews: %w", err)
	}
	return reviews, total, nil
}

// Stats summarizes what is stored.
func (s *PostgresSink) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"total_reviews":       0,
		"places":              0,
		"average_rating":      0.0,
		"rating_distribution": map[int]int{},
		"last_scraped_at":     "Never",
	}

	var (
		total, places int
		avgRating     sql.NullFloat64
		lastScraped   sql.NullString
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT place_url), AVG(rating), MAX(scraped_at)::text
		FROM reviews`,
	).Scan(&total, &places, &avgRating, &lastScraped)
	if err != nil {
		if isUndefinedTable(err) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to get review totals: %w", err)
	}
	stats["total_reviews"] = total
	stats["places"] = places
	if avgRating.Valid {
		stats["average_rating"] = avgRating.Float64
	}
	if lastScraped.Valid {
		stats["last_scraped_at"] = lastScraped.String
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT rating, COUNT(*) FROM reviews GROUP BY rating`)
	if err != nil {
		return nil, fmt.Errorf("failed to get rating distribution: %w", err)
	}
	defer rows.Close()

	dist := make(map[int]int)
	for rows.Next() {
		var rating, count int
		if err := rows.Scan(&rating, &count); err != nil {
			continue
		}
		dist[rating] = count
	}
	stats["rating_distribution"] = dist
	return stats, nil
}

// Ping checks if the database connection is alive.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PostgresSink) Close() error {
	return s.conn.Close()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedTable
}
