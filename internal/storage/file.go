package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/pkg/types"
)

// CSVHeader is the column layout of CSV output.
var CSVHeader = []string{
	"review_id", "author", "rating", "date", "likes",
	"comment", "original_comment", "extra",
}

// FileSink writes records to a single CSV or JSON file. The file either
// holds the complete result or is not created at all.
type FileSink struct {
	path         string
	format       string
	keepOriginal bool
	concatExtra  bool
	logger       *logrus.Logger
}

type FileSinkOptions struct {
	Path         string
	Format       string
	KeepOriginal bool
	ConcatExtra  bool
}

func NewFileSink(opts FileSinkOptions, logger *logrus.Logger) (*FileSink, error) {
	if opts.Format != config.FormatCSV && opts.Format != config.FormatJSON {
		return nil, fmt.Errorf("unsupported output format %q", opts.Format)
	}
	return &FileSink{
		path:         opts.Path,
		format:       opts.Format,
		keepOriginal: opts.KeepOriginal,
		concatExtra:  opts.ConcatExtra,
		logger:       logger,
	}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Write(ctx context.Context, _ string, records []types.ReviewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	w := bufio.NewWriter(tmp)
	if s.format == config.FormatCSV {
		err = s.writeCSV(w, records)
	} else {
		err = s.writeJSON(w, records)
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	s.logger.Infof("Reviews written to: %s (%d rows)", s.path, len(records))
	return nil
}

func (s *FileSink) writeCSV(w io.Writer, records []types.ReviewRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(CSVRow(r)); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", r.ReviewID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVRow renders r in CSVHeader order. Extra is always flattened.
func CSVRow(r types.ReviewRecord) []string {
	return []string{
		r.ReviewID,
		r.Author,
		strconv.Itoa(r.Rating),
		r.Date,
		strconv.Itoa(r.Likes),
		r.CommentText(),
		r.OriginalText(),
		r.Extra.Flatten(),
	}
}

// jsonReview fixes the JSON layout. OriginalComment is a pointer to the
// record's pointer so that a missing original prints as null while the key
// itself is only left out when keep-original is off.
type jsonReview struct {
	ReviewID        string      `json:"review_id"`
	Author          string      `json:"author"`
	Rating          int         `json:"rating"`
	Date            string      `json:"date"`
	Likes           int         `json:"likes"`
	Comment         *string     `json:"comment"`
	OriginalComment **string    `json:"original_comment,omitempty"`
	Extra           interface{} `json:"extra"`
}

func (s *FileSink) writeJSON(w io.Writer, records []types.ReviewRecord) error {
	out := make([]jsonReview, 0, len(records))
	for i := range records {
		r := &records[i]
		jr := jsonReview{
			ReviewID: r.ReviewID,
			Author:   r.Author,
			Rating:   r.Rating,
			Date:     r.Date,
			Likes:    r.Likes,
			Comment:  r.Comment,
		}
		if s.keepOriginal {
			jr.OriginalComment = &r.OriginalComment
		}
		switch {
		case s.concatExtra:
			jr.Extra = r.Extra.Flatten()
		case r.Extra == nil:
			jr.Extra = types.Attributes{}
		default:
			jr.Extra = r.Extra
		}
		out = append(out, jr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func (s *FileSink) Close() error { return nil }
