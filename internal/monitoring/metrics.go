package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/utils"
)

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

const (
	maxRecentRuns = 50
	// staleAfter is how long without a run before health and alerts warn.
	staleAfter = 24 * time.Hour
)

// Run is one scraper invocation.
type Run struct {
	PlaceURL  string        `json:"place_url"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Reviews   int           `json:"reviews"`
	Retries   int           `json:"retries"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

type Metrics struct {
	Runs           int                    `json:"runs"`
	FailedRuns     int                    `json:"failed_runs"`
	EmptyRuns      int                    `json:"empty_runs"`
	TotalReviews   int                    `json:"total_reviews"`
	TotalRetries   int                    `json:"total_retries"`
	LastRun        time.Time              `json:"last_run"`
	AverageRunTime time.Duration          `json:"average_run_time"`
	FailureRate    float64                `json:"failure_rate"`
	Places         map[string]PlaceMetric `json:"places"`
	Recent         []Run                  `json:"recent"`
}

type PlaceMetric struct {
	Runs           int           `json:"runs"`
	LastReviews    int           `json:"last_reviews"`
	LastScraped    time.Time     `json:"last_scraped"`
	LastOutcome    string        `json:"last_outcome"`
	AverageRunTime time.Duration `json:"average_run_time"`
	ErrorCount     int           `json:"error_count"`
}

// Monitor keeps the run history in a JSON file. With an empty file path it
// records nothing.
type Monitor struct {
	metrics     *Metrics
	logger      *logrus.Logger
	metricsFile string
	now         func() time.Time
}

func NewMonitor(logger *logrus.Logger, metricsFile string) *Monitor {
	monitor := &Monitor{
		metrics: &Metrics{
			Places: make(map[string]PlaceMetric),
		},
		logger:      logger,
		metricsFile: metricsFile,
		now:         time.Now,
	}

	if monitor.Enabled() {
		monitor.loadMetrics()
	}
	return monitor
}

func (m *Monitor) Enabled() bool {
	return m.metricsFile != ""
}

// RecordRun adds run to the history and persists it.
func (m *Monitor) RecordRun(run Run) {
	if !m.Enabled() {
		return
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = m.now()
	}

	mt := m.metrics
	mt.Runs++
	mt.TotalReviews += run.Reviews
	mt.TotalRetries += run.Retries
	mt.LastRun = run.StartedAt
	switch run.Outcome {
	case OutcomeFailed:
		mt.FailedRuns++
	case OutcomeEmpty:
		mt.EmptyRuns++
	}
	mt.AverageRunTime += (run.Duration - mt.AverageRunTime) / time.Duration(mt.Runs)
	mt.FailureRate = float64(mt.FailedRuns) / float64(mt.Runs) * 100

	place := mt.Places[run.PlaceURL]
	place.Runs++
	place.LastScraped = run.StartedAt
	place.LastOutcome = run.Outcome
	if run.Outcome == OutcomeFailed {
		place.ErrorCount++
	} else {
		place.LastReviews = run.Reviews
	}
	place.AverageRunTime += (run.Duration - place.AverageRunTime) / time.Duration(place.Runs)
	mt.Places[run.PlaceURL] = place

	mt.Recent = append(mt.Recent, run)
	if len(mt.Recent) > maxRecentRuns {
		mt.Recent = mt.Recent[len(mt.Recent)-maxRecentRuns:]
	}

	m.saveMetrics()

	m.logger.Infof("Recorded %s run for %s: %d reviews, %d retries, %v",
		run.Outcome, run.PlaceURL, run.Reviews, run.Retries, run.Duration.Round(time.Millisecond))
}

func (m *Monitor) GetMetrics() *Metrics {
	return m.metrics
}

func (m *Monitor) GetHealthStatus() map[string]interface{} {
	status := map[string]interface{}{
		"status":          "healthy",
		"last_run":        m.metrics.LastRun.Format(time.RFC3339),
		"total_runs":      m.metrics.Runs,
		"failure_rate":    fmt.Sprintf("%.2f%%", m.metrics.FailureRate),
		"average_runtime": m.metrics.AverageRunTime.String(),
	}

	if m.metrics.Runs == 0 {
		status["status"] = "unknown"
		status["warning"] = "No runs recorded yet"
		return status
	}

	if m.now().Sub(m.metrics.LastRun) > staleAfter {
		status["status"] = "warning"
		status["warning"] = "No scraping runs in the last 24 hours"
	}

	if m.metrics.FailureRate > 10 {
		status["status"] = "warning"
		status["warning"] = "High failure rate detected"
	}

	return status
}

func (m *Monitor) GenerateReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, `
Review Scraper Monitoring Report
================================
Generated: %s

Overall Statistics:
- Total Runs: %d
- Failed Runs: %d
- Empty Runs: %d
- Reviews Collected: %d
- Retries: %d
- Failure Rate: %.2f%%
- Average Run Time: %s
- Last Run: %s

Place Performance:
`,
		utils.FormatTimestamp(m.now()),
		m.metrics.Runs,
		m.metrics.FailedRuns,
		m.metrics.EmptyRuns,
		m.metrics.TotalReviews,
		m.metrics.TotalRetries,
		m.metrics.FailureRate,
		m.metrics.AverageRunTime.Round(time.Millisecond),
		utils.FormatTimestamp(m.metrics.LastRun),
	)

	places := make([]string, 0, len(m.metrics.Places))
	for url := range m.metrics.Places {
		places = append(places, url)
	}
	sort.Strings(places)

	for _, url := range places {
		metric := m.metrics.Places[url]
		fmt.Fprintf(&b, `
- %s:
  Runs: %d
  Reviews (last run): %d
  Last Scraped: %s (%s)
  Average Runtime: %s
  Errors: %d
`,
			url,
			metric.Runs,
			metric.LastReviews,
			utils.FormatTimestamp(metric.LastScraped),
			metric.LastOutcome,
			metric.AverageRunTime.Round(time.Millisecond),
			metric.ErrorCount,
		)
	}

	return b.String()
}

func (m *Monitor) loadMetrics() {
	data, err := os.ReadFile(m.metricsFile)
	if os.IsNotExist(err) {
		m.logger.Info("No existing metrics file found, starting fresh")
		return
	}
	if err != nil {
		m.logger.Warnf("Failed to read metrics file: %v", err)
		return
	}

	if err := json.Unmarshal(data, m.metrics); err != nil {
		m.logger.Warnf("Failed to parse metrics file: %v", err)
		return
	}
	if m.metrics.Places == nil {
		m.metrics.Places = make(map[string]PlaceMetric)
	}

	m.logger.Debug("Loaded existing metrics from file")
}

func (m *Monitor) saveMetrics() {
	data, err := json.MarshalIndent(m.metrics, "", "  ")
	if err != nil {
		m.logger.Errorf("Failed to marshal metrics: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(m.metricsFile), 0755); err != nil {
		m.logger.Errorf("Failed to create metrics directory: %v", err)
		return
	}
	if err := os.WriteFile(m.metricsFile, data, 0644); err != nil {
		m.logger.Errorf("Failed to save metrics: %v", err)
		return
	}
}

// AlertManager handles alerting based on metrics
type AlertManager struct {
	monitor *Monitor
	logger  *logrus.Logger
}

func NewAlertManager(monitor *Monitor, logger *logrus.Logger) *AlertManager {
	return &AlertManager{
		monitor: monitor,
		logger:  logger,
	}
}

func (am *AlertManager) CheckAlerts() []string {
	var alerts []string
	metrics := am.monitor.GetMetrics()

	if metrics.Runs == 0 {
		return []string{"ALERT: No scraping runs have been recorded"}
	}

	if am.monitor.now().Sub(metrics.LastRun) > staleAfter {
		alerts = append(alerts, "ALERT: Scraper hasn't run in over 24 hours")
	}

	if metrics.FailureRate > 15 {
		alerts = append(alerts, fmt.Sprintf("ALERT: High failure rate: %.2f%%", metrics.FailureRate))
	}

	// three failed runs in a row on one place
	if n := len(metrics.Recent); n >= 3 {
		last := metrics.Recent[n-3:]
		if last[0].PlaceURL == last[2].PlaceURL && last[1].PlaceURL == last[2].PlaceURL &&
			last[0].Outcome == OutcomeFailed && last[1].Outcome == OutcomeFailed && last[2].Outcome == OutcomeFailed {
			alerts = append(alerts, fmt.Sprintf("ALERT: Last 3 runs for %s failed: %s", last[2].PlaceURL, last[2].Error))
		}
	}

	return alerts
}

func (am *AlertManager) SendAlerts(alerts []string) {
	for _, alert := range alerts {
		am.logger.Warn(alert)
	}
}
