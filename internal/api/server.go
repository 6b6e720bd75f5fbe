package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"maps-review-scraper/internal/monitoring"
	"maps-review-scraper/internal/storage"
)

const exportPageSize = 500

// ReviewStore is the read side of the review database.
type ReviewStore interface {
	ListReviews(ctx context.Context, q storage.ReviewQuery) ([]storage.StoredReview, int, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
	Ping(ctx context.Context) error
}

type Server struct {
	store   ReviewStore
	monitor *monitoring.Monitor
	logger  *logrus.Logger
	port    string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Count   int         `json:"count,omitempty"`
}

type ReviewsResponse struct {
	Reviews    []storage.StoredReview `json:"reviews"`
	TotalCount int                    `json:"total_count"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
}

// NewServer builds the API. monitor may be nil.
func NewServer(store ReviewStore, monitor *monitoring.Monitor, logger *logrus.Logger, port string) *Server {
	return &Server{
		store:   store,
		monitor: monitor,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting API server on port %s", s.port)
	return srv.ListenAndServe()
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.corsMiddleware(s.handleRoot))
	mux.HandleFunc("/api/reviews", s.corsMiddleware(s.handleReviews))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/api/export/csv", s.corsMiddleware(s.handleExportCSV))
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))
	return mux
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			s.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, "Not found", http.StatusNotFound)
		return
	}
	response := APIResponse{
		Success: true,
		Data: map[string]string{
			"message":   "Maps Review Scraper API",
			"version":   "1.0.0",
			"endpoints": "/api/reviews, /api/stats, /api/export/csv, /api/health",
		},
	}
	s.writeJSON(w, response)
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	reviews, total, err := s.store.ListReviews(r.Context(), storage.ReviewQuery{
		PlaceURL: r.URL.Query().Get("place"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch reviews: %v", err), http.StatusInternalServerError)
		return
	}

	response := APIResponse{
		Success: true,
		Data: ReviewsResponse{
			Reviews:    reviews,
			TotalCount: total,
			Page:       page,
			PageSize:   pageSize,
		},
		Count: len(reviews),
	}

	s.writeJSON(w, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to fetch stats: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, APIResponse{Success: true, Data: stats})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	place := r.URL.Query().Get("place")

	// read all pages before the first byte goes out
	var reviews []storage.StoredReview
	for page := 1; ; page++ {
		batch, _, err := s.store.ListReviews(r.Context(), storage.ReviewQuery{
			PlaceURL: place,
			Page:     page,
			PageSize: exportPageSize,
		})
		if err != nil {
			s.writeError(w, fmt.Sprintf("Failed to fetch reviews for export: %v", err), http.StatusInternalServerError)
			return
		}
		reviews = append(reviews, batch...)
		if len(batch) < exportPageSize {
			break
		}
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=reviews_%s.csv", time.Now().Format("2006-01-02")))

	cw := csv.NewWriter(w)
	_ = cw.Write(append([]string{"place_url", "scraped_at"}, storage.CSVHeader...))
	for _, rev := range reviews {
		row := append([]string{rev.PlaceURL, rev.ScrapedAt.Format(time.RFC3339)}, storage.CSVRow(rev.ReviewRecord)...)
		if err := cw.Write(row); err != nil {
			s.logger.Errorf("Failed to write CSV row for %s: %v", rev.ReviewID, err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Errorf("Failed to export CSV: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeError(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	data := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"database":  "connected",
	}
	if s.monitor != nil && s.monitor.Enabled() {
		data["scraper"] = s.monitor.GetHealthStatus()
	}

	s.writeJSON(w, APIResponse{Success: true, Data: data})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := APIResponse{
		Success: false,
		Error:   message,
	}
	json.NewEncoder(w).Encode(response)
}
