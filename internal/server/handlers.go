package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/vire-assistant/internal/common"
	"github.com/bobmcallan/vire-assistant/internal/models"
	"github.com/bobmcallan/vire-assistant/internal/services/report"
	"github.com/bobmcallan/vire-assistant/internal/storage/journal"
)

// queryRequest is the body of POST /api/query. Tickers may be a JSON array
// or a comma-separated string.
type queryRequest struct {
	Query   string          `json:"query"`
	Tickers json.RawMessage `json:"tickers,omitempty"`
}

// --- System handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}

	resp := map[string]interface{}{
		"status":      "ok",
		"index":       s.app.Pipeline.IndexStatus(),
		"market_data": s.app.MarketDataConfigured(),
		"journal":     s.app.Journal != nil,
		"uptime":      time.Since(s.app.StartupTime).Round(time.Second).String(),
	}
	if s.app.Embedder != nil {
		resp["embedder"] = s.app.Embedder.Name()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// --- Query pipeline handlers ---

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req queryRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	var tickers []string
	if err := UnmarshalArrayParam(req.Tickers, &tickers); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, "tickers must be an array of strings", "invalid_input")
		return
	}

	result, err := s.app.Pipeline.Query(r.Context(), req.Query, tickers)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handleSampleQuery handles GET /api/test, the built-in smoke test.
func (s *Server) handleSampleQuery(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	result, err := s.app.Pipeline.SampleQuery(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"test_query": result.Query,
		"tickers":    result.Tickers,
		"result":     result,
	})
}

// handleIndex handles GET /api/index, the read-only listing of the vector index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	type indexedDoc struct {
		Ticker string `json:"ticker"`
		Title  string `json:"title"`
	}

	docs := s.app.VectorStore.Documents()
	listing := make([]indexedDoc, len(docs))
	for i, d := range docs {
		listing[i] = indexedDoc{Ticker: d.Ticker, Title: d.Title}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_documents": len(docs),
		"index_ready":     len(docs) > 0,
		"documents":       listing,
	})
}

// handleRecentQueries handles GET /api/queries?limit=n.
func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if s.app.Journal == nil {
		WriteError(w, http.StatusServiceUnavailable, "Query journal is not enabled")
		return
	}

	limit := QueryInt(r, "limit", journal.DefaultRecentLimit, 1, 500)
	entries, err := s.app.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read query journal")
		WriteError(w, http.StatusInternalServerError, "Failed to read query journal")
		return
	}
	if entries == nil {
		entries = []*models.JournalEntry{}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"queries": entries,
		"count":   len(entries),
	})
}

// --- Report handlers ---

// handleAllocationChart handles GET /api/allocation/chart[?tickers=A,B].
// Without tickers it charts the analytics of the most recent query.
func (s *Server) handleAllocationChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	var (
		png []byte
		err error
	)
	if tickers := SplitList(r.URL.Query().Get("tickers")); len(tickers) > 0 {
		png, err = s.app.ChartService.AllocationChart(r.Context(), tickers)
	} else {
		png, err = s.app.ChartService.RenderAllocation(s.app.Pipeline.LastAnalytics())
	}

	switch {
	case err == nil:
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	case errors.Is(err, report.ErrNoAllocation):
		WriteError(w, http.StatusNotFound, "No sector allocation available - run a query or pass tickers")
	case errors.Is(err, common.ErrInvalidInput):
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
	case errors.Is(err, common.ErrCollaboratorUnavailable):
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), "market_data_unavailable")
	default:
		s.logger.Error().Err(err).Msg("Allocation chart failed")
		WriteError(w, http.StatusInternalServerError, "Failed to render allocation chart")
	}
}

// writePipelineError maps the pipeline error taxonomy onto HTTP statuses.
// Fatal stage failures carry the stage name as the error code.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	if errors.Is(err, common.ErrInvalidInput) {
		WriteErrorWithCode(w, http.StatusBadRequest, err.Error(), "invalid_input")
		return
	}

	if stage, ok := common.StageOf(err); ok {
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), stage)
		return
	}

	s.logger.Error().Err(err).Msg("Query failed")
	WriteError(w, http.StatusInternalServerError, "Query failed: "+err.Error())
}
