package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/internal/monitoring"
	"maps-review-scraper/internal/scraper"
	"maps-review-scraper/internal/storage"
	"maps-review-scraper/pkg/types"
)

func TestFlagsOverrideOnlyWhatIsSet(t *testing.T) {
	opts, err := parseFlags([]string{
		"-language", "fr",
		"-format", "csv",
		"-headless=false",
		"-timestamp=false",
		"-verbose",
		"-driver", "selenium",
		"-driver-path", "/opt/geckodriver",
		"https://www.google.com/maps/place/X",
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Output.Name = "from-file"
	opts.apply(cfg)

	assert.Equal(t, "https://www.google.com/maps/place/X", cfg.Maps.URL)
	assert.Equal(t, "fr", cfg.Maps.Language)
	assert.Equal(t, "csv", cfg.Output.Format)
	assert.False(t, cfg.Scraper.Headless)
	assert.False(t, cfg.Output.Timestamp)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, config.DriverSelenium, cfg.Scraper.Driver)
	assert.Equal(t, "/opt/geckodriver", cfg.Scraper.Selenium.DriverPath)

	assert.Equal(t, "from-file", cfg.Output.Name, "unset flags keep the file value")
	assert.True(t, cfg.Scraper.KeepOriginal)
	assert.Equal(t, 3, cfg.Scraper.RetryAttempts)
}

func TestURLFlagWinsOverArgument(t *testing.T) {
	opts, err := parseFlags([]string{"-url", "https://a/maps/place/A", "https://b/maps/place/B"})
	require.NoError(t, err)
	cfg := config.Default()
	opts.apply(cfg)
	assert.Equal(t, "https://a/maps/place/A", cfg.Maps.URL)
}

func TestConfigPath(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	opts.configFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Equal(t, "", opts.configPath(), "absent default file falls back to built-in defaults")

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	opts, err = parseFlags([]string{"-config", missing})
	require.NoError(t, err)
	assert.Equal(t, missing, opts.configPath(), "an explicit file must exist")
}

func TestRunRejectsBadLocaleBeforeBrowser(t *testing.T) {
	err := run([]string{
		"-config", "",
		"-language", "xx",
		"-url", "https://www.google.com/maps/place/X",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrUnacceptedLocale)
}

func TestRunRequiresURL(t *testing.T) {
	err := run([]string{"-config", ""})
	assert.ErrorContains(t, err, "no listing URL given")
}

func TestOutcomeOf(t *testing.T) {
	wrapped := fmt.Errorf("listing: %w", scraper.ErrNoReviews)

	assert.Equal(t, monitoring.OutcomeSuccess, outcomeOf(nil, nil))
	assert.Equal(t, monitoring.OutcomeEmpty, outcomeOf(nil, wrapped))
	assert.Equal(t, monitoring.OutcomeFailed, outcomeOf(errors.New("disk full"), wrapped))
	assert.Equal(t, monitoring.OutcomeFailed, outcomeOf(scraper.ErrRetryBudgetExhausted, scraper.ErrRetryBudgetExhausted))
}

const testPlace = "https://www.google.com/maps/place/Cafe"

type fakeSession struct {
	countText string
	list      scraper.ReviewList
	closed    int
}

func (f *fakeSession) Open(context.Context, string) error { return nil }

func (f *fakeSession) AcceptCookies(context.Context) error {
	return fmt.Errorf("cookie consent button: %w", scraper.ErrElementNotFound)
}

func (f *fakeSession) TotalReviewsText(context.Context) (string, error) { return f.countText, nil }

func (f *fakeSession) SortByNewest(context.Context) error { return nil }

func (f *fakeSession) Reviews() scraper.ReviewList { return f.list }

func (f *fakeSession) Close() { f.closed++ }

// stalledList never renders a card.
type stalledList struct{}

func (stalledList) Len(context.Context) (int, error) {
	return 0, fmt.Errorf("review panel: %w", scraper.ErrWaitTimeout)
}

func (stalledList) Card(context.Context, int) (scraper.CardSnapshot, error) {
	return scraper.CardSnapshot{}, scraper.ErrTransientStale
}

func (stalledList) ScrollToBottom(context.Context) error { return nil }

func stubSession(t *testing.T, session scraper.Session) {
	t.Helper()
	orig := newSession
	newSession = func(*config.Config, *logrus.Logger) (scraper.Session, error) { return session, nil }
	t.Cleanup(func() { newSession = orig })
}

// runFixture writes a config that sends CSV output and run history into a
// temp dir.
type runFixture struct {
	config  string
	output  string
	history string
}

func newRunFixture(t *testing.T) runFixture {
	t.Helper()
	dir := t.TempDir()
	f := runFixture{
		config:  filepath.Join(dir, "config.yaml"),
		output:  filepath.Join(dir, "out", "reviews.csv"),
		history: filepath.Join(dir, "runs.json"),
	}
	body := fmt.Sprintf(`
output:
  format: "csv"
  path: %q
  name: "reviews"
  timestamp: false
scraper:
  retry_delay: 1
monitoring:
  metrics_file: %q
`, filepath.Dir(f.output), f.history)
	require.NoError(t, os.WriteFile(f.config, []byte(body), 0644))
	return f
}

func (f runFixture) lastRun(t *testing.T) monitoring.Run {
	t.Helper()
	data, err := os.ReadFile(f.history)
	require.NoError(t, err)
	var m monitoring.Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	require.NotEmpty(t, m.Recent)
	return m.Recent[len(m.Recent)-1]
}

func TestRunRetryBudgetExhaustedWritesNothing(t *testing.T) {
	fx := newRunFixture(t)
	session := &fakeSession{countText: "12 reviews", list: stalledList{}}
	stubSession(t, session)

	err := run([]string{"-config", fx.config, "-url", testPlace})

	require.Error(t, err)
	assert.ErrorIs(t, err, scraper.ErrRetryBudgetExhausted)
	assert.NoFileExists(t, fx.output)
	assert.Equal(t, 1, session.closed)

	rec := fx.lastRun(t)
	assert.Equal(t, monitoring.OutcomeFailed, rec.Outcome)
	assert.Equal(t, 0, rec.Reviews)
	assert.Equal(t, 3, rec.Retries)
	assert.Contains(t, rec.Error, "retry budget exhausted")
}

func TestRunWithoutReviewsWritesEmptyFile(t *testing.T) {
	fx := newRunFixture(t)
	session := &fakeSession{countText: "0 reviews", list: stalledList{}}
	stubSession(t, session)

	require.NoError(t, run([]string{"-config", fx.config, "-url", testPlace}))

	data, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(storage.CSVHeader, ",")+"\n", string(data))
	assert.Equal(t, 1, session.closed)

	rec := fx.lastRun(t)
	assert.Equal(t, monitoring.OutcomeEmpty, rec.Outcome)
	assert.Empty(t, rec.Error)
}

type failingSink struct{ err error }

func (f failingSink) Write(context.Context, string, []types.ReviewRecord) error { return f.err }

func (failingSink) Close() error { return nil }

func TestWriteAllStopsBeforeFileOnDatabaseFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "reviews.json")
	file, err := storage.NewFileSink(storage.FileSinkOptions{Path: path, Format: config.FormatJSON}, logger)
	require.NoError(t, err)

	dbErr := errors.New("connection reset")
	err = writeAll(context.Background(), []storage.Sink{failingSink{err: dbErr}, file}, testPlace, nil)

	assert.ErrorIs(t, err, dbErr)
	assert.NoFileExists(t, path)
}

func TestOpenSinksWithoutDatabase(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := config.Default()
	cfg.Output.Timestamp = false

	sinks, err := openSinks(context.Background(), cfg, time.Now(), logger)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.IsType(t, &storage.FileSink{}, sinks[0])
}
