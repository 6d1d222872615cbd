// Package search exposes the station search page and its backing proxy
// endpoint. Request/response glue only; playback lives in the station
// module.
package search

import (
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/grafana/dskit/services"

	"github.com/zachfi/airband/pkg/radiobrowser"
)

var module = "search"

//go:embed static
var staticFiles embed.FS

type Search struct {
	services.Service
	cfg    *Config
	logger *slog.Logger
	client *radiobrowser.Client
}

// New creates the search module and registers its routes.
func New(cfg Config, logger slog.Logger, router *mux.Router) (*Search, error) {
	s := &Search{
		cfg:    &cfg,
		logger: logger.With("module", module),
		client: radiobrowser.New(cfg.DirectoryURL),
	}

	s.RegisterRoutes(router)

	s.Service = services.NewIdleService(nil, nil)

	return s, nil
}

// RegisterRoutes attaches the search endpoint and the static page.
func (s *Search) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// embed guarantees the subdirectory exists
		panic(err)
	}
	router.PathPrefix("/").Handler(http.FileServer(http.FS(static)))
}

func (s *Search) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")

	stations, err := s.client.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("error retrieving stations", "query", query, "err", err)
		http.Error(w, "Error retrieving stations", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stations); err != nil {
		s.logger.Debug("error writing search response", "err", err)
	}
}
