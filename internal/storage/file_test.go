package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maps-review-scraper/pkg/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func strPtr(s string) *string { return &s }

func sampleRecords() []types.ReviewRecord {
	return []types.ReviewRecord{
		{
			ReviewID:        "r1",
			Author:          "Marie Dupont",
			Rating:          4,
			Date:            "3 weeks ago",
			Likes:           2,
			Comment:         strPtr("Great, \"cosy\" place"),
			OriginalComment: strPtr("Super endroit"),
			Extra:           types.Attributes{"Food": "5", "Service": "3"},
		},
		{
			ReviewID: "r2",
			Author:   "Lee",
			Rating:   1,
			Date:     "a year ago",
		},
	}
}

func newSink(t *testing.T, format string, keepOriginal, concatExtra bool) (*FileSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out", "reviews."+format)
	sink, err := NewFileSink(FileSinkOptions{
		Path:         path,
		Format:       format,
		KeepOriginal: keepOriginal,
		ConcatExtra:  concatExtra,
	}, quietLogger())
	require.NoError(t, err)
	return sink, path
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "reviews.csv"), OutputPath("data", "reviews", "", "csv"))
	assert.Equal(t, filepath.Join("data", "reviews_2024-05-01_10-00-00.json"),
		OutputPath("data", "reviews", "2024-05-01_10-00-00", "json"))
}

func TestNewFileSinkRejectsUnknownFormat(t *testing.T) {
	_, err := NewFileSink(FileSinkOptions{Path: "x.xml", Format: "xml"}, quietLogger())
	assert.Error(t, err)
}

func TestFileSinkCSV(t *testing.T) {
	sink, path := newSink(t, "csv", true, false)

	require.NoError(t, sink.Write(context.Background(), "place", sampleRecords()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"r1", "Marie Dupont", "4", "3 weeks ago", "2",
		"Great, \"cosy\" place", "Super endroit", "Food:5,Service:3"}, rows[1])
	assert.Equal(t, []string{"r2", "Lee", "1", "a year ago", "0", "", "", ""}, rows[2])

	extra, err := types.ParseAttributes(rows[1][7])
	require.NoError(t, err)
	assert.Equal(t, sampleRecords()[0].Extra, extra)
}

func TestFileSinkJSON(t *testing.T) {
	tests := []struct {
		name         string
		keepOriginal bool
		concatExtra  bool
		check        func(t *testing.T, got []map[string]interface{})
	}{
		{
			name: "plain",
			check: func(t *testing.T, got []map[string]interface{}) {
				assert.NotContains(t, got[0], "original_comment")
				assert.Equal(t, map[string]interface{}{"Food": "5", "Service": "3"}, got[0]["extra"])
				assert.Equal(t, map[string]interface{}{}, got[1]["extra"])
				assert.Nil(t, got[1]["comment"])
				assert.Contains(t, got[1], "comment")
			},
		},
		{
			name:         "keep original",
			keepOriginal: true,
			check: func(t *testing.T, got []map[string]interface{}) {
				assert.Equal(t, "Super endroit", got[0]["original_comment"])
				require.Contains(t, got[1], "original_comment")
				assert.Nil(t, got[1]["original_comment"])
			},
		},
		{
			name:        "concat extra",
			concatExtra: true,
			check: func(t *testing.T, got []map[string]interface{}) {
				assert.Equal(t, "Food:5,Service:3", got[0]["extra"])
				assert.Equal(t, "", got[1]["extra"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, path := newSink(t, "json", tt.keepOriginal, tt.concatExtra)
			require.NoError(t, sink.Write(context.Background(), "place", sampleRecords()))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			var got []map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &got))
			require.Len(t, got, 2)

			assert.Equal(t, "r1", got[0]["review_id"])
			assert.Equal(t, float64(4), got[0]["rating"])
			assert.Equal(t, float64(2), got[0]["likes"])
			tt.check(t, got)
		})
	}
}

func TestFileSinkEmptyResult(t *testing.T) {
	csvSink, csvPath := newSink(t, "csv", false, false)
	require.NoError(t, csvSink.Write(context.Background(), "place", nil))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(CSVHeader, ",")+"\n", string(data))

	jsonSink, jsonPath := newSink(t, "json", false, false)
	require.NoError(t, jsonSink.Write(context.Background(), "place", nil))
	data, err = os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestFileSinkLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	// the target path is an existing directory, so the final rename fails
	path := filepath.Join(dir, "reviews.json")
	require.NoError(t, os.Mkdir(path, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0644))

	sink, err := NewFileSink(FileSinkOptions{Path: path, Format: "json"}, quietLogger())
	require.NoError(t, err)

	err = sink.Write(context.Background(), "place", sampleRecords())
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
	assert.Equal(t, "reviews.json", entries[0].Name())
}

func TestFileSinkCanceledContext(t *testing.T) {
	sink, path := newSink(t, "csv", false, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sink.Write(ctx, "place", sampleRecords()), context.Canceled)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
