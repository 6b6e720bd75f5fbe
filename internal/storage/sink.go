package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"maps-review-scraper/pkg/types"
)

// Sink receives the records of one finished collection.
type Sink interface {
	Write(ctx context.Context, placeURL string, records []types.ReviewRecord) error
	Close() error
}

// OutputPath builds "<dir>/<name>[_<timestamp>].<format>".
func OutputPath(dir, name, timestamp, format string) string {
	file := name
	if timestamp != "" {
		file = fmt.Sprintf("%s_%s", name, timestamp)
	}
	return filepath.Join(dir, file+"."+format)
}
