package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/threatlens/internal/artifact"
	"github.com/opensource-finance/threatlens/internal/bus"
	"github.com/opensource-finance/threatlens/internal/cache"
	"github.com/opensource-finance/threatlens/internal/dataset"
	"github.com/opensource-finance/threatlens/internal/domain"
	"github.com/opensource-finance/threatlens/internal/filter"
	"github.com/opensource-finance/threatlens/internal/predict"
	"github.com/opensource-finance/threatlens/internal/repository"
	"github.com/opensource-finance/threatlens/internal/summary"
	"github.com/opensource-finance/threatlens/internal/training"
	"github.com/opensource-finance/threatlens/internal/worker"
)

const fixtureRows = 120

var (
	countries = []string{"India", "Brazil", "Germany"}
	attacks   = []string{"Phishing", "Ransomware", "DDoS", "Malware"}
)

func processedRows() []domain.ProcessedIncident {
	rng := rand.New(rand.NewPCG(5, 5))
	rows := make([]domain.ProcessedIncident, fixtureRows)
	for i := range rows {
		rows[i] = domain.ProcessedIncident{
			ScoredIncident: domain.ScoredIncident{
				Incident: domain.Incident{
					Country:           countries[i%len(countries)],
					Year:              float64(2015 + i%10),
					AttackType:        attacks[i%len(attacks)],
					TargetIndustry:    "Retail",
					FinancialLoss:     rng.Float64() * 100,
					AffectedUsers:     float64(rng.IntN(1_000_000)),
					AttackSource:      "Hacker Group",
					VulnerabilityType: "Zero-day",
					DefenseMechanism:  "Firewall",
					ResolutionHours:   float64(1 + rng.IntN(72)),
				},
				RiskScore: rng.Float64(),
			},
			Cluster: i % 4,
			Tier:    domain.Tiers[i%4],
		}
	}
	return rows
}

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// fixtureStore writes the processed dataset and summary tables, and trains a
// small model when train is set.
func fixtureStore(t *testing.T, repo domain.Repository, train bool) *artifact.Store {
	t.Helper()

	store := artifact.NewStore(t.TempDir())
	rows := processedRows()
	if err := dataset.WriteProcessed(store.ProcessedPath(), rows); err != nil {
		t.Fatalf("WriteProcessed failed: %v", err)
	}
	if err := summary.Write(store, summary.Build(rows)); err != nil {
		t.Fatalf("summary.Write failed: %v", err)
	}
	if train {
		cfg := domain.TrainingConfig{Trees: 10, MaxDepth: 8, MinSamplesSplit: 2, TestFraction: 0.2, Seed: 42}
		if _, err := training.NewTrainer(store, cfg, repo, nil).Run(context.Background()); err != nil {
			t.Fatalf("training failed: %v", err)
		}
	}
	return store
}

func createTestServer(t *testing.T, store *artifact.Store, repo domain.Repository, eventBus domain.EventBus, policy domain.UnseenPolicy) *Server {
	t.Helper()

	engine, err := filter.NewEngine(2)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	lru := cache.NewLRUCache(64)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, Deps{
		Store:    store,
		Repo:     repo,
		Cache:    lru,
		Bus:      eventBus,
		Provider: predict.NewProvider(store, policy),
		Filters:  engine,
		Memo:     cache.NewMemo(lru, cache.TablePrefix, time.Minute),
		Version:  "test-v1",
	})
}

func do(server *Server, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func record(country string, users float64) domain.RawIncident {
	return domain.RawIncident{
		Country:           country,
		Year:              domain.Num(2022),
		AttackType:        "Phishing",
		TargetIndustry:    "Retail",
		FinancialLoss:     domain.Num(20),
		AffectedUsers:     domain.Num(users),
		AttackSource:      "Hacker Group",
		VulnerabilityType: "Zero-day",
		DefenseMechanism:  "Firewall",
		ResolutionHours:   domain.Num(10),
	}
}

func TestHealthEndpoint(t *testing.T) {
	repo := newRepo(t)
	server := createTestServer(t, fixtureStore(t, repo, false), repo, nil, domain.UnseenFallback)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		decode(t, rr, &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("NotReadyWithoutModel", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/health", nil)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		do(server, http.MethodGet, "/health", nil)

		rr := do(server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `threatlens_http_requests_total{method="GET",route="/health",status="200"}`) {
			t.Error("expected request counter labelled by route pattern")
		}
	})
}

func TestIncidentEndpoints(t *testing.T) {
	repo := newRepo(t)
	server := createTestServer(t, fixtureStore(t, repo, false), repo, nil, domain.UnseenFallback)

	t.Run("Paging", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/incidents?limit=10&offset=5", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var page IncidentPage
		decode(t, rr, &page)
		if page.Total != fixtureRows {
			t.Errorf("expected total %d, got %d", fixtureRows, page.Total)
		}
		if len(page.Incidents) != 10 {
			t.Fatalf("expected 10 incidents, got %d", len(page.Incidents))
		}
		if page.Incidents[0].Year != 2020 {
			t.Errorf("expected sixth row year 2020, got %v", page.Incidents[0].Year)
		}
	})

	t.Run("OffsetPastEnd", func(t *testing.T) {
		var page IncidentPage
		decode(t, do(server, http.MethodGet, "/incidents?offset=5000", nil), &page)
		if len(page.Incidents) != 0 || page.Total != fixtureRows {
			t.Errorf("expected empty page over %d rows, got %d of %d", fixtureRows, len(page.Incidents), page.Total)
		}
	})

	t.Run("Filter", func(t *testing.T) {
		rr := do(server, http.MethodGet, `/incidents?limit=1000&filter=country%20%3D%3D%20%22India%22`, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var page IncidentPage
		decode(t, rr, &page)
		if page.Total != fixtureRows/len(countries) {
			t.Errorf("expected %d rows for India, got %d", fixtureRows/len(countries), page.Total)
		}
		for _, inc := range page.Incidents {
			if inc.Country != "India" {
				t.Errorf("unexpected country %s", inc.Country)
			}
		}
	})

	t.Run("YearFilter", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/incidents?limit=1000&filter="+url.QueryEscape(`year >= 2020 && country in ["India", "Brazil", "Germany"]`), nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var page IncidentPage
		decode(t, rr, &page)
		if page.Total != fixtureRows/2 {
			t.Errorf("expected %d rows from 2020 on, got %d", fixtureRows/2, page.Total)
		}
	})

	t.Run("InvalidFilter", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/incidents?filter=year%20%2B%201", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/incidents?limit=abc", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("KPIs", func(t *testing.T) {
		var kpis summary.KPIs
		decode(t, do(server, http.MethodGet, "/kpis", nil), &kpis)
		if kpis.TotalIncidents != fixtureRows {
			t.Errorf("expected %d incidents, got %d", fixtureRows, kpis.TotalIncidents)
		}
		if kpis.Countries != len(countries) {
			t.Errorf("expected %d countries, got %d", len(countries), kpis.Countries)
		}
		if kpis.TierCounts[domain.TierCritical] != fixtureRows/4 {
			t.Errorf("expected %d critical, got %d", fixtureRows/4, kpis.TierCounts[domain.TierCritical])
		}
	})
}

type tableResponse struct {
	Name    string           `json:"name"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

func TestSummaryEndpoints(t *testing.T) {
	repo := newRepo(t)
	server := createTestServer(t, fixtureStore(t, repo, false), repo, nil, domain.UnseenFallback)

	t.Run("List", func(t *testing.T) {
		var resp map[string][]string
		decode(t, do(server, http.MethodGet, "/summaries", nil), &resp)
		if len(resp["tables"]) != len(summary.Names()) {
			t.Errorf("expected %d tables, got %d", len(summary.Names()), len(resp["tables"]))
		}
	})

	t.Run("Persisted", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			rr := do(server, http.MethodGet, "/summaries/"+summary.CountrySummary, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}

			var table tableResponse
			decode(t, rr, &table)
			if table.Name != summary.CountrySummary {
				t.Errorf("expected %s, got %s", summary.CountrySummary, table.Name)
			}
			if len(table.Rows) != len(countries) {
				t.Fatalf("expected %d rows, got %d", len(countries), len(table.Rows))
			}
			if table.Rows[0][domain.ColCountry] != "Brazil" {
				t.Errorf("expected rows sorted by key, got %v first", table.Rows[0][domain.ColCountry])
			}
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/summaries/"+summary.CountrySummary+"?filter=country%20%3D%3D%20%22India%22", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var table tableResponse
		decode(t, rr, &table)
		if len(table.Rows) != 1 {
			t.Fatalf("expected 1 row, got %d", len(table.Rows))
		}
		if got := table.Rows[0][summary.ColTotalIncidents]; got != float64(fixtureRows/len(countries)) {
			t.Errorf("expected %d incidents, got %v", fixtureRows/len(countries), got)
		}
	})

	t.Run("UnknownTable", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/summaries/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidateCache", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/cache/invalidate", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMissingDataset(t *testing.T) {
	server := createTestServer(t, artifact.NewStore(t.TempDir()), nil, nil, domain.UnseenFallback)

	for _, target := range []string{"/incidents", "/kpis", "/summaries/" + summary.YearlyTrends} {
		rr := do(server, http.MethodGet, target, nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", target, rr.Code)
		}
	}
}

func TestPredictEndpoints(t *testing.T) {
	repo := newRepo(t)
	store := fixtureStore(t, repo, true)
	server := createTestServer(t, store, repo, nil, domain.UnseenFallback)

	t.Run("Ready", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Predict", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/predict", record("India", 5200))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp PredictResponse
		decode(t, rr, &resp)
		if !resp.Label.Valid() {
			t.Errorf("invalid label %q", resp.Label)
		}
		if resp.PredictionID == "" || resp.RunID == "" {
			t.Fatalf("expected prediction and run IDs, got %+v", resp)
		}

		rr = do(server, http.MethodGet, "/predictions/"+resp.PredictionID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected stored prediction, got %d", rr.Code)
		}
		var stored domain.Prediction
		decode(t, rr, &stored)
		if stored.Label != resp.Label {
			t.Errorf("expected stored label %s, got %s", resp.Label, stored.Label)
		}
	})

	t.Run("RawColumnKeys", func(t *testing.T) {
		body := `{"Country":"Brazil","Year":2021,"Attack Type":"DDoS","Number of Affected Users":"750000"}`
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("UnseenFallsBack", func(t *testing.T) {
		var resp PredictResponse
		decode(t, do(server, http.MethodPost, "/predict", record("Atlantis", 5200)), &resp)
		if len(resp.Fallbacks) != 1 || resp.Fallbacks[0] != domain.ColCountry {
			t.Errorf("expected Country fallback, got %v", resp.Fallbacks)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("OversizedBody", func(t *testing.T) {
		bodies := map[string]string{
			"/predict":       `{"Country": "` + strings.Repeat("A", maxRecordBytes) + `"}`,
			"/predict/batch": "[" + strings.Repeat(" ", maxBatchBytes) + "]",
		}
		for target, body := range bodies {
			req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)

			if rr.Code != http.StatusRequestEntityTooLarge {
				t.Errorf("%s: expected status 413, got %d", target, rr.Code)
			}
		}
	})

	t.Run("Batch", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/predict/batch", []domain.RawIncident{record("India", 10), record("Germany", 900000)})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp BatchResponse
		decode(t, rr, &resp)
		if len(resp.Results) != 2 || resp.Failed != 0 {
			t.Errorf("expected 2 successful results, got %+v", resp)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/predict/batch", []domain.RawIncident{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Model", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/model", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp ModelResponse
		decode(t, rr, &resp)
		if len(resp.Metadata.Features) != len(training.Features) {
			t.Errorf("expected %d features, got %d", len(training.Features), len(resp.Metadata.Features))
		}
		if resp.LatestRun == nil || resp.LatestRun.ID != resp.Metadata.RunID {
			t.Errorf("expected latest run to match metadata run %s", resp.Metadata.RunID)
		}
		if resp.RiskWeights.FinancialLoss != 0.4 {
			t.Errorf("expected loss weight 0.4, got %v", resp.RiskWeights.FinancialLoss)
		}
	})

	t.Run("UnknownPrediction", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/predictions/does-not-exist", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPredictErrors(t *testing.T) {
	t.Run("ModelNotFound", func(t *testing.T) {
		server := createTestServer(t, artifact.NewStore(t.TempDir()), nil, nil, domain.UnseenFallback)

		rr := do(server, http.MethodPost, "/predict", record("India", 100))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("StrictUnseen", func(t *testing.T) {
		store := fixtureStore(t, nil, true)
		server := createTestServer(t, store, nil, nil, domain.UnseenStrict)

		rr := do(server, http.MethodPost, "/predict", record("Atlantis", 100))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = do(server, http.MethodPost, "/predict/batch", []domain.RawIncident{record("India", 1), record("Atlantis", 1)})
		var resp BatchResponse
		decode(t, rr, &resp)
		if resp.Failed != 1 || resp.Results[1].Error == "" {
			t.Errorf("expected second row to fail alone, got %+v", resp)
		}
	})
}

func TestJobEndpoints(t *testing.T) {
	repo := newRepo(t)
	store := fixtureStore(t, repo, true)
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	server := createTestServer(t, store, repo, eventBus, domain.UnseenFallback)
	w := worker.NewWorker(eventBus, repo, predict.NewProvider(store, domain.UnseenFallback), nil)
	if err := w.Start(worker.Config{BatchJobs: true}); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	rr := do(server, http.MethodPost, "/jobs/predict", []domain.RawIncident{record("India", 10), record("Brazil", 20), record("Germany", 30)})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var queued struct {
		JobID string `json:"jobId"`
	}
	decode(t, rr, &queued)
	if queued.JobID == "" {
		t.Fatal("expected job ID")
	}

	var job struct {
		Count       int                  `json:"count"`
		Predictions []*domain.Prediction `json:"predictions"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		decode(t, do(server, http.MethodGet, "/jobs/"+queued.JobID, nil), &job)
		if job.Count == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Count != 3 {
		t.Fatalf("expected 3 predictions, got %d", job.Count)
	}
	for i, p := range job.Predictions {
		if p.Seq != i {
			t.Errorf("expected seq %d, got %d", i, p.Seq)
		}
		if p.Input.Country != countries[i] {
			t.Errorf("expected input %s at %d, got %s", countries[i], i, p.Input.Country)
		}
	}

	t.Run("NoBus", func(t *testing.T) {
		server := createTestServer(t, store, repo, nil, domain.UnseenFallback)
		rr := do(server, http.MethodPost, "/jobs/predict", []domain.RawIncident{record("India", 10)})
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
	})

	t.Run("TracingMiddlewareKeepsIncomingID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected req-42, got %s", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight must not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("expected origin to be echoed")
		}
	})
}
