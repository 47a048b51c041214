package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vrsandeep/postscan/internal/scan"
)

// startCycleBudget bounds the work a start request does inline, including the
// first cycle. It stays below the router timeout. Items the first cycle does
// not reach are left on the queue for the follow-up.
const startCycleBudget = 45 * time.Second

type scanResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not abort the scan half way through a batch.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startCycleBudget)
	defer cancel()

	var payload struct {
		Filters []string `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		RespondWithJSON(w, http.StatusBadRequest, scanResponse{Message: "Invalid request payload"})
		return
	}
	filters := cleanFilters(payload.Filters)
	if len(filters) == 0 {
		filters = s.app.Config().Scan.DefaultPostTypes
	}

	ids, err := s.store.PublishedPostIDs(ctx, filters)
	if err != nil {
		log.Error().Err(err).Strs("filters", filters).Msg("Failed to list posts for scan")
		RespondWithJSON(w, http.StatusServiceUnavailable, scanResponse{Message: "Storage unavailable"})
		return
	}
	if len(ids) == 0 {
		RespondWithJSON(w, http.StatusBadRequest, scanResponse{Message: "No posts found for selected post types."})
		return
	}

	if err := s.app.ScanJob().Start(ctx, ids, filters); err != nil {
		respondScanError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, scanResponse{Success: true})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.app.ScanJob().Status(r.Context())
	if err != nil {
		respondScanError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, status)
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.app.ScanJob().Cancel(r.Context()); err != nil {
		respondScanError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, scanResponse{Success: true})
}

func respondScanError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, scan.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, scan.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, scan.ErrLeaseHeld):
		code = http.StatusConflict
	}
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Scan request failed")
	}
	RespondWithJSON(w, code, scanResponse{Message: err.Error()})
}

// cleanFilters trims and de-duplicates post types, keeping their order.
func cleanFilters(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
