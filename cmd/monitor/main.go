package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/internal/monitoring"
	"maps-review-scraper/internal/storage"
)

func main() {
	var (
		configFile  = flag.String("config", "configs/config.yaml", "Configuration file path")
		metricsFile = flag.String("metrics", "", "Run history file (defaults to monitoring.metrics_file)")
		report      = flag.Bool("report", false, "Generate and display monitoring report")
		alerts      = flag.Bool("alerts", false, "Check and display alerts")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *metricsFile == "" {
		*metricsFile = cfg.Monitoring.MetricsFile
	}
	if *metricsFile == "" {
		log.Fatal("No run history file configured, set monitoring.metrics_file or -metrics")
	}

	monitor := monitoring.NewMonitor(logger, *metricsFile)

	if *report {
		fmt.Println(monitor.GenerateReport())

		if !cfg.Database.Enabled {
			return
		}
		store, err := storage.NewPostgresSink(cfg.Database, logger)
		if err != nil {
			logger.Errorf("Failed to connect to database: %v", err)
			return
		}
		defer store.Close()

		stats, err := store.Stats(context.Background())
		if err != nil {
			logger.Errorf("Failed to get database stats: %v", err)
			return
		}
		fmt.Println("\nDatabase Statistics:")
		fmt.Printf("- Total Reviews: %v\n", stats["total_reviews"])
		fmt.Printf("- Places: %v\n", stats["places"])
		fmt.Printf("- Average Rating: %.2f\n", stats["average_rating"])
		fmt.Printf("- Rating Distribution: %v\n", stats["rating_distribution"])
		fmt.Printf("- Last Scraped: %v\n", stats["last_scraped_at"])
		return
	}

	if *alerts {
		alertManager := monitoring.NewAlertManager(monitor, logger)
		active := alertManager.CheckAlerts()

		if len(active) == 0 {
			fmt.Println("✅ No alerts - system is healthy")
		} else {
			fmt.Println("⚠️  Active Alerts:")
			for _, alert := range active {
				fmt.Printf("  - %s\n", alert)
			}
			alertManager.SendAlerts(active)
		}
		return
	}

	health := monitor.GetHealthStatus()
	fmt.Println("Review Scraper Status:")
	fmt.Printf("- Status: %s\n", health["status"])
	fmt.Printf("- Last Run: %s\n", health["last_run"])
	fmt.Printf("- Total Runs: %v\n", health["total_runs"])
	fmt.Printf("- Failure Rate: %s\n", health["failure_rate"])
	fmt.Printf("- Average Runtime: %s\n", health["average_runtime"])

	if warning, exists := health["warning"]; exists {
		fmt.Printf("- Warning: %s\n", warning)
	}
}
