package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/cache"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/filter"
	"github.com/opensource-finance/threatlens/internal/predict"
	"github.com/opensource-finance/threatlens/internal/repository"
	"github.com/opensource-finance/threatlens/internal/scoring"
	"github.com/opensource-finance/threatlens/internal/summary"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
	maxBatchSize    = 10_000

	// Request body limits; a full batch of raw records stays well below.
	maxRecordBytes = 64 << 10
	maxBatchBytes  = 16 << 20
)

// Deps are the components the handlers serve from. Repo, Cache, Bus and Memo
// may be nil; the endpoints that need them answer 503.
type Deps struct {
	Store    *artifact.Store
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Provider *predict.Provider
	Filters  *filter.Engine
	Memo     *cache.Memo
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{Deps: deps, now: time.Now}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready reports whether a trained model can be served.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Provider.Get(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// IncidentPage is the response for GET /incidents.
type IncidentPage struct {
	Total     int                        `json:"total"`
	Offset    int                        `json:"offset"`
	Limit     int                        `json:"limit"`
	Incidents []domain.ProcessedIncident `json:"incidents"`
}

// ListIncidents pages through the processed dataset, optionally filtered.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxPageSize)
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	rows, err := h.filteredRows(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, "failed to list incidents", err)
		return
	}

	page := IncidentPage{Total: len(rows), Offset: offset, Limit: limit, Incidents: []domain.ProcessedIncident{}}
	if offset < len(rows) {
		page.Incidents = rows[offset:min(offset+limit, len(rows))]
	}
	writeJSON(w, http.StatusOK, page)
}

// ListSummaries returns the names of the available summary tables.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tables": summary.Names()})
}

// GetSummary returns a persisted summary table, or recomputes it over the
// filtered rows when a filter is given.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	expr := r.URL.Query().Get("filter")

	if expr != "" {
		rows, err := h.filteredRows(ctx, expr)
		if err != nil {
			h.fail(w, "failed to filter incidents", err)
			return
		}
		table, err := summary.BuildOne(name, rows)
		if err != nil {
			h.fail(w, "failed to build summary", err)
			return
		}
		writeJSON(w, http.StatusOK, table)
		return
	}

	var table summary.Table
	err := h.memoize(ctx, "summary:"+name, &table, func(ctx context.Context) (any, error) {
		return summary.Load(h.Store, name)
	})
	if err != nil {
		h.fail(w, "failed to load summary", err)
		return
	}
	writeJSON(w, http.StatusOK, &table)
}

// GetKPIs returns the headline figures, optionally over filtered rows.
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.filteredRows(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, "failed to compute kpis", err)
		return
	}
	writeJSON(w, http.StatusOK, summary.ComputeKPIs(rows))
}

// InvalidateCache drops the memoized tables and the loaded predictor.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.Memo != nil {
		if err := h.Memo.Invalidate(r.Context()); err != nil {
			h.fail(w, "failed to invalidate cache", err)
			return
		}
	}
	h.Provider.Invalidate()

	slog.Info("cache invalidated")
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": true})
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	PredictionID string `json:"predictionId,omitempty"`
	RunID        string `json:"runId"`
	predict.Result
	TraceID string `json:"traceId"`
}

// Predict classifies one incident record keyed by raw column names.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rec domain.RawIncident
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes)).Decode(&rec); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	p, err := h.Provider.Get(ctx)
	if err != nil {
		h.fail(w, "failed to load predictor", err)
		return
	}
	res, err := p.Predict(ctx, rec)
	if err != nil {
		h.fail(w, "prediction failed", err)
		return
	}

	resp := PredictResponse{RunID: p.Metadata().RunID, Result: res, TraceID: GetTraceID(ctx)}
	if h.Repo != nil {
		pred := &domain.Prediction{
			ID:            uuid.New().String(),
			RunID:         resp.RunID,
			Input:         rec,
			Label:         res.Label,
			Probabilities: res.Probabilities,
			Fallbacks:     res.Fallbacks,
			CreatedAt:     h.now().UTC(),
		}
		if err := h.Repo.SavePrediction(ctx, pred); err != nil {
			slog.Error("failed to save prediction", "error", err)
		} else {
			resp.PredictionID = pred.ID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// BatchResponse is the response for POST /predict/batch.
type BatchResponse struct {
	RunID   string           `json:"runId"`
	Results []predict.Result `json:"results"`
	Failed  int              `json:"failed"`
}

// PredictBatch classifies an array of records. Rows fail independently.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, ok := decodeRecords(w, r)
	if !ok {
		return
	}

	p, err := h.Provider.Get(ctx)
	if err != nil {
		h.fail(w, "failed to load predictor", err)
		return
	}
	results, err := p.PredictBatch(ctx, records)
	if err != nil {
		h.fail(w, "batch prediction failed", err)
		return
	}

	resp := BatchResponse{RunID: p.Metadata().RunID, Results: results}
	for _, res := range results {
		if res.Err != nil {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitJob queues an array of records for the worker.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	records, ok := decodeRecords(w, r)
	if !ok {
		return
	}

	job := domain.BatchJob{JobID: uuid.New().String(), Records: records}
	if err := bus.PublishJSON(r.Context(), h.Bus, domain.TopicPredictBatch, job); err != nil {
		h.fail(w, "failed to queue job", err)
		return
	}

	slog.Info("batch job queued", "job_id", job.JobID, "records", len(records))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":   job.JobID,
		"records": len(records),
	})
}

// GetJob lists the predictions stored for a job in record order. A job
// still being processed returns the predictions saved so far.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	jobID := chi.URLParam(r, "id")
	preds, err := h.Repo.ListPredictionsByJob(r.Context(), jobID)
	if err != nil {
		h.fail(w, "failed to list job predictions", err)
		return
	}
	if preds == nil {
		preds = []*domain.Prediction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":       jobID,
		"count":       len(preds),
		"predictions": preds,
	})
}

// GetPrediction retrieves a stored prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	pred, err := h.Repo.GetPrediction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "failed to get prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// ModelResponse is the response for GET /model.
type ModelResponse struct {
	Metadata     *domain.ModelMetadata `json:"metadata"`
	LatestRun    *domain.TrainingRun   `json:"latestRun,omitempty"`
	RiskWeights  scoring.Weights       `json:"riskWeights"`
	UnseenPolicy domain.UnseenPolicy   `json:"unseenPolicy"`
}

// GetModel describes the served classifier and the last training run.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.Provider.Get(ctx)
	if err != nil {
		h.fail(w, "failed to load predictor", err)
		return
	}

	resp := ModelResponse{
		Metadata:     p.Metadata(),
		RiskWeights:  scoring.DefaultWeights,
		UnseenPolicy: h.Provider.Policy(),
	}
	if h.Repo != nil {
		run, err := h.Repo.LatestTrainingRun(ctx)
		switch {
		case err == nil:
			resp.LatestRun = run
		case !errors.Is(err, repository.ErrNotFound):
			slog.Warn("failed to load latest training run", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// filteredRows loads the processed dataset through the memo and applies the
// CEL filter expression, if any.
func (h *Handler) filteredRows(ctx context.Context, expr string) ([]domain.ProcessedIncident, error) {
	f, err := h.Filters.Compile(expr)
	if err != nil {
		return nil, err
	}

	var rows []domain.ProcessedIncident
	err = h.memoize(ctx, "processed", &rows, func(ctx context.Context) (any, error) {
		return dataset.ReadProcessed(h.Store.ProcessedPath())
	})
	if err != nil {
		return nil, err
	}
	return h.Filters.Select(ctx, f, rows)
}

func (h *Handler) memoize(ctx context.Context, key string, dst any, load func(ctx context.Context) (any, error)) error {
	if h.Memo != nil {
		return h.Memo.Load(ctx, key, dst, load)
	}
	v, err := load(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// fail logs err and answers with the status its kind maps to.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	} else {
		slog.Debug(msg, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, filter.ErrInvalidFilter),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, summary.ErrUnknownTable),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnseenCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrModelNotFound),
		errors.Is(err, domain.ErrDatasetNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeRecords(w http.ResponseWriter, r *http.Request) ([]domain.RawIncident, bool) {
	var records []domain.RawIncident
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&records); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large, max "+strconv.Itoa(maxBatchBytes)+" bytes")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of records")
		return nil, false
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "at least one record is required")
		return nil, false
	}
	if len(records) > maxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "too many records, max "+strconv.Itoa(maxBatchSize))
		return nil, false
	}
	return records, true
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
