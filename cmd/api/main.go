package main

import (
	"context"
	"flag"
	"log"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/api"
	"maps-review-scraper/internal/config"
	"maps-review-scraper/internal/monitoring"
	"maps-review-scraper/internal/storage"
)

func main() {
	var (
		configFile = flag.String("config", "configs/config.yaml", "Configuration file path")
		port       = flag.String("port", "8080", "API server port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	store, err := storage.NewPostgresSink(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.CreateTable(context.Background()); err != nil {
		logger.Fatalf("Failed to prepare database: %v", err)
	}

	monitor := monitoring.NewMonitor(logger, cfg.Monitoring.MetricsFile)
	server := api.NewServer(store, monitor, logger, *port)

	logger.Infof("Starting Maps Review Scraper API server on port %s", *port)
	logger.Info("Available endpoints:")
	logger.Info("  GET  /api/reviews?place=&page=&page_size= - List stored reviews")
	logger.Info("  GET  /api/stats - Review statistics")
	logger.Info("  GET  /api/export/csv?place= - Export reviews to CSV")
	logger.Info("  GET  /api/health - Health check")

	if err := server.Start(); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
