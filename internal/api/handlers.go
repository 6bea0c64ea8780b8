package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"repolens/internal/analysis"
	"repolens/internal/errors"
	"repolens/internal/store"
	"repolens/internal/version"
)

// AnalyzeRequest is the body of POST /api/v1/analyze. Omitted include
// flags default to true.
type AnalyzeRequest struct {
	Repositories       []analysis.RepositoryRef `json:"repositories"`
	IncludeStructural  *bool                    `json:"includeStructural"`
	IncludeTechStack   *bool                    `json:"includeTechStack"`
	IncludeCorrelation *bool                    `json:"includeCorrelation"`
}

func (r *AnalyzeRequest) toBatchRequest() analysis.BatchRequest {
	return analysis.BatchRequest{
		Repositories:       r.Repositories,
		IncludeStructural:  boolOrTrue(r.IncludeStructural),
		IncludeTechStack:   boolOrTrue(r.IncludeTechStack),
		IncludeCorrelation: boolOrTrue(r.IncludeCorrelation),
	}
}

func boolOrTrue(b *bool) bool { return b == nil || *b }

// AnalyzeResponse acknowledges an accepted batch.
type AnalyzeResponse struct {
	BatchID      string                   `json:"batchId"`
	Status       string                   `json:"status"`
	Repositories []analysis.RepositoryRef `json:"repositories"`
}

// handleAnalyze accepts a batch and starts it in the background. The
// response returns immediately with the batch identifier.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, errors.Wrap(errors.InvalidRequest, "decode request body", err))
		return
	}

	batchID, err := s.engine.SubmitAsync(req.toBatchRequest())
	if err != nil {
		WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, AnalyzeResponse{
		BatchID:      batchID,
		Status:       "accepted",
		Repositories: req.Repositories,
	})
}

// handleResultRoutes dispatches /api/v1/results/{id} and
// /api/v1/results/{id}/cancel.
func (s *Server) handleResultRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/results/")
	if rest == "" {
		s.handleListResults(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
		s.handleCancel(w, r, id)
		return
	}
	s.handleGetResult(w, r, rest)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request, analysisID string) {
	if r.Method != http.MethodGet {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	rec, err := s.results.GetRecord(analysisID)
	if err != nil {
		WriteError(w, errors.Wrap(errors.StoreUnavailable, "load analysis record", err))
		return
	}
	if rec == nil {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "analysis not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListResultsResponse wraps the record list with paging echoes.
type ListResultsResponse struct {
	Results []*analysis.Record `json:"results"`
	Count   int                `json:"count"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	opts := store.ListOptions{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			WriteError(w, errors.New(errors.InvalidRequest, "limit must be in [1,500]"))
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, errors.New(errors.InvalidRequest, "offset must be non-negative"))
			return
		}
		opts.Offset = n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		opts.Status = []analysis.Status{analysis.Status(v)}
	}

	records, err := s.results.ListRecords(opts)
	if err != nil {
		WriteError(w, errors.Wrap(errors.StoreUnavailable, "list analysis records", err))
		return
	}
	if records == nil {
		records = []*analysis.Record{}
	}
	writeJSON(w, http.StatusOK, ListResultsResponse{
		Results: records,
		Count:   len(records),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, analysisID string) {
	if r.Method != http.MethodPost {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	if !s.engine.Cancel(analysisID) {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "no running analysis with that id"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysisId": analysisID,
		"status":     "cancelling",
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	batchID := strings.TrimPrefix(r.URL.Path, "/api/v1/batches/")
	if batchID == "" || strings.Contains(batchID, "/") {
		WriteError(w, errors.New(errors.InvalidRequest, "batch id required"))
		return
	}

	batch, err := s.results.GetBatch(batchID)
	if err != nil {
		WriteError(w, errors.Wrap(errors.StoreUnavailable, "load batch", err))
		return
	}
	if batch == nil {
		WriteErrorStatus(w, errors.New(errors.InvalidRequest, "batch not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// StatusResponse reports server liveness details.
type StatusResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	InFlight      int    `json:"inFlight"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		InFlight:      s.engine.InFlightCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
