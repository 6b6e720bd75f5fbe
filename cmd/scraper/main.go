package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/internal/monitoring"
	"maps-review-scraper/internal/scraper"
	"maps-review-scraper/internal/storage"
	"maps-review-scraper/internal/utils"
	"maps-review-scraper/pkg/types"
)

const defaultConfigFile = "configs/config.yaml"

// options holds the command line. Only flags that were set override the
// configuration file.
type options struct {
	configFile  string
	url         string
	language    string
	original    bool
	concatExtra bool
	delay       int
	timeout     int
	headless    bool
	format      string
	path        string
	name        string
	timestamp   bool
	logFile     string
	verbose     bool
	driver      string
	driverPath  string
	waitExit    bool

	set map[string]bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{set: make(map[string]bool)}
	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	fs.StringVar(&o.configFile, "config", defaultConfigFile, "Configuration file path")
	fs.StringVar(&o.url, "url", "", "Listing URL to scrape (may also be given as the first argument)")
	fs.StringVar(&o.language, "language", "", "Interface language of the listing page, e.g. en, fr, de")
	fs.BoolVar(&o.original, "original", false, "Also capture the untranslated comment")
	fs.BoolVar(&o.concatExtra, "concat-extra", false, "Flatten extra attributes into one string in JSON output")
	fs.IntVar(&o.delay, "delay", 0, "Pause in milliseconds before a collector retry")
	fs.IntVar(&o.timeout, "timeout", 0, "Seconds to wait for page elements")
	fs.BoolVar(&o.headless, "headless", true, "Run the browser without a window")
	fs.StringVar(&o.format, "format", "", "Output format: csv or json")
	fs.StringVar(&o.path, "path", "", "Output directory")
	fs.StringVar(&o.name, "name", "", "Output file name without extension")
	fs.BoolVar(&o.timestamp, "timestamp", true, "Append a timestamp to the output file name")
	fs.StringVar(&o.logFile, "log-file", "", "Write logs to <logging.dir>/<name>_<timestamp>.log instead of stdout")
	fs.BoolVar(&o.verbose, "verbose", false, "Log every extracted review")
	fs.StringVar(&o.driver, "driver", "", "Browser driver: chromedp or selenium")
	fs.StringVar(&o.driverPath, "driver-path", "", "Path to chromedriver or geckodriver (selenium driver only)")
	fs.BoolVar(&o.waitExit, "wait-exit", false, "Keep a visible browser open until Enter is pressed")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	if !o.set["url"] && fs.NArg() > 0 {
		o.url = fs.Arg(0)
		o.set["url"] = true
	}
	return o, nil
}

// configPath returns "" when the default file is absent, so the built-in
// defaults apply.
func (o *options) configPath() string {
	if o.set["config"] {
		return o.configFile
	}
	if _, err := os.Stat(o.configFile); err != nil {
		return ""
	}
	return o.configFile
}

func (o *options) apply(cfg *config.Config) {
	if o.set["url"] {
		cfg.Maps.URL = o.url
	}
	if o.set["language"] {
		cfg.Maps.Language = o.language
	}
	if o.set["original"] {
		cfg.Scraper.KeepOriginal = o.original
	}
	if o.set["concat-extra"] {
		cfg.Scraper.ConcatExtra = o.concatExtra
	}
	if o.set["delay"] {
		cfg.Scraper.RetryDelay = o.delay
	}
	if o.set["timeout"] {
		cfg.Maps.Timeout = o.timeout
	}
	if o.set["headless"] {
		cfg.Scraper.Headless = o.headless
	}
	if o.set["format"] {
		cfg.Output.Format = o.format
	}
	if o.set["path"] {
		cfg.Output.Path = o.path
	}
	if o.set["name"] {
		cfg.Output.Name = o.name
	}
	if o.set["timestamp"] {
		cfg.Output.Timestamp = o.timestamp
	}
	if o.set["log-file"] {
		cfg.Logging.File = o.logFile
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if o.set["driver"] {
		cfg.Scraper.Driver = o.driver
	}
	if o.set["driver-path"] {
		cfg.Scraper.Selenium.DriverPath = o.driverPath
	}
	if o.set["wait-exit"] {
		cfg.Scraper.WaitForExit = o.waitExit
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) (err error) {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Maps.URL == "" {
		return errors.New("no listing URL given, use -url or maps.url")
	}
	placeURL, err := scraper.PlaceURL(cfg.Maps.URL, cfg.Maps.Language)
	if err != nil {
		return err
	}

	start := time.Now()
	logger, logCloser, err := utils.SetupLogger(cfg.Logging.Level, cfg.Logging.Dir, cfg.Logging.File, utils.FileTimestamp(start))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, err := openSinks(ctx, cfg, start, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			if cerr := s.Close(); cerr != nil {
				logger.Warnf("Failed to close sink: %v", cerr)
			}
		}
	}()

	monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)
	var (
		result    *types.ScrapeResult
		scrapeErr error
	)
	defer func() {
		rec := monitoring.Run{
			PlaceURL:  placeURL,
			StartedAt: start,
			Duration:  time.Since(start),
			Outcome:   outcomeOf(err, scrapeErr),
		}
		if result != nil {
			rec.Reviews = len(result.Reviews)
			rec.Retries = result.Retries
		}
		if err != nil {
			rec.Error = err.Error()
		}
		monitor.RecordRun(rec)
		if err != nil {
			logger.Errorf("Scraping failed: %v", err)
		}
	}()

	session, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	collector := scraper.NewCollector(scraper.NewParser(cfg.Scraper.KeepOriginal), scraper.CollectorOptions{
		RetryBudget:  cfg.Scraper.RetryAttempts,
		RetryDelay:   cfg.RetryDelay(),
		WaitTimeout:  cfg.WaitTimeout(),
		PollInterval: cfg.PollInterval(),
	}, logger)

	rs := scraper.NewReviewScraper(session, collector, cfg.Maps.BaseURL, logger)
	result, scrapeErr = rs.Scrape(ctx, placeURL)
	if scrapeErr != nil && !errors.Is(scrapeErr, scraper.ErrNoReviews) {
		return scrapeErr
	}

	// an empty listing still produces an (empty) output file
	records := result.Reviews
	if err := writeAll(ctx, sinks, placeURL, records); err != nil {
		return err
	}
	logger.Infof("Done: %d reviews in %v", len(records), time.Since(start).Round(time.Millisecond))

	if cfg.Scraper.WaitForExit && !cfg.Scraper.Headless {
		fmt.Println("Press Enter to close the browser...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	return nil
}

// openSinks returns the database sink first and the file sink last, so a
// failed database write leaves no output file behind.
func openSinks(ctx context.Context, cfg *config.Config, start time.Time, logger *logrus.Logger) ([]storage.Sink, error) {
	ts := ""
	if cfg.Output.Timestamp {
		ts = utils.FileTimestamp(start)
	}
	fileSink, err := storage.NewFileSink(storage.FileSinkOptions{
		Path:         storage.OutputPath(cfg.Output.Path, cfg.Output.Name, ts, cfg.Output.Format),
		Format:       cfg.Output.Format,
		KeepOriginal: cfg.Scraper.KeepOriginal,
		ConcatExtra:  cfg.Scraper.ConcatExtra,
	}, logger)
	if err != nil {
		return nil, err
	}

	if !cfg.Database.Enabled {
		return []storage.Sink{fileSink}, nil
	}
	pg, err := storage.NewPostgresSink(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := pg.CreateTable(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return []storage.Sink{pg, fileSink}, nil
}

// writeAll writes records to each sink in order and stops at the first
// failure.
func writeAll(ctx context.Context, sinks []storage.Sink, placeURL string, records []types.ReviewRecord) error {
	for _, s := range sinks {
		if err := s.Write(ctx, placeURL, records); err != nil {
			return err
		}
	}
	return nil
}

// newSession starts the browser the configuration asks for.
var newSession = openSession

func openSession(cfg *config.Config, logger *logrus.Logger) (scraper.Session, error) {
	opts := scraper.BrowserOptions{
		Headless:     cfg.Scraper.Headless,
		Language:     cfg.Maps.Language,
		UserAgent:    cfg.Scraper.UserAgent,
		KeepOriginal: cfg.Scraper.KeepOriginal,
		WaitTimeout:  cfg.WaitTimeout(),
		ClickDelay:   cfg.ClickDelay(),
	}
	if cfg.Scraper.Driver == config.DriverSelenium {
		return scraper.NewSeleniumSession(scraper.SeleniumOptions{
			Browser:    cfg.Scraper.Selenium.Browser,
			DriverPath: cfg.Scraper.Selenium.DriverPath,
			Port:       cfg.Scraper.Selenium.Port,
		}, opts, logger)
	}
	return scraper.NewBrowserSession(opts, logger)
}

// outcomeOf classifies a run from its final error and the scrape error.
func outcomeOf(runErr, scrapeErr error) string {
	switch {
	case runErr != nil:
		return monitoring.OutcomeFailed
	case errors.Is(scrapeErr, scraper.ErrNoReviews):
		return monitoring.OutcomeEmpty
	default:
		return monitoring.OutcomeSuccess
	}
}
