package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/jobs"
	"github.com/loyaltyops/accrual-core/processor"
	"github.com/loyaltyops/accrual-core/rules"
	"github.com/loyaltyops/accrual-core/transaction"
)

type serverFixture struct {
	server   *Server
	ruleSets *rules.InMemoryStore
	txns     *transaction.InMemoryStore
	jobStore *jobs.InMemoryStore
	execs    *jobs.InMemoryExecutionStore
	orch     *jobs.Orchestrator
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	log := logger.NewNop()
	f := &serverFixture{
		ruleSets: rules.NewInMemoryStore(),
		txns:     transaction.NewInMemoryStore(),
		jobStore: jobs.NewInMemoryStore(),
		execs:    jobs.NewInMemoryExecutionStore(),
	}
	f.orch = jobs.NewOrchestrator(f.jobStore, f.execs, log)
	proc := processor.New(rules.NewEvaluator(nil), log)
	f.server = NewServer(nil, f.ruleSets, f.txns, f.jobStore, f.execs, f.orch, proc, log)
	t.Cleanup(f.orch.Shutdown)
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func seedRuleSet(f *serverFixture) {
	f.ruleSets.Put(&rules.RuleSet{
		CampaignID: "camp-1",
		Version:    1,
		Eligibility: []*rules.Rule{{
			ID: "elig-premium", Category: rules.CategoryEligibility, Enabled: true,
			Condition: rules.FieldComparison{Field: "tier", Operator: rules.OpEquals, Value: "Premium"},
		}},
		Accrual: []*rules.Rule{{
			ID: "accrual-base", Category: rules.CategoryAccrual, Enabled: true,
			Condition:   rules.FieldComparison{Field: "amount", Operator: rules.OpGreaterThan, Value: 0},
			Calculation: rules.Mathematical{Fields: []string{"amount"}, Multiplier: 0.01, Rounding: rules.RoundFloor},
		}},
	})
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	f := newServerFixture(t)
	seedRuleSet(f)

	rec := f.do(t, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{
		CampaignID: "camp-1",
		Transaction: TransactionPayload{
			ExternalID: "ord-1",
			UserID:     "user-1",
			Data:       transaction.FieldMap{"tier": "Premium", "amount": 125.5},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Success)
	assert.Equal(t, 1, resp.Result.PointsAllocated)
	assert.Len(t, resp.Result.RulesEvaluated, 2)
}

func TestEvaluateEndpointUnknownCampaign(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{CampaignID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateEndpointRequiresCampaign(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/evaluate", EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	f.orch.RegisterRunner(jobs.TypeRulesProcessing, jobs.RunnerFunc(
		func(ctx context.Context, job *jobs.Job, exec *jobs.Execution) (jobs.RunStats, error) {
			return jobs.RunStats{Processed: 2, Succeeded: 2}, nil
		}))

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/", CreateJobRequest{
		CampaignID: "camp-1",
		Type:       jobs.TypeRulesProcessing,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, jobs.StatusPending, created.Status)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+created.ID+"/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var exec jobs.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exec))
	assert.Equal(t, jobs.StatusRunning, exec.Status)

	require.Eventually(t, func() bool {
		got, err := f.execs.Get(context.Background(), exec.ID)
		return err == nil && got.Status == jobs.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+created.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page ExecutionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Executions, 1)
	assert.Equal(t, 2, page.Executions[0].RecordsProcessed)

	rec = f.do(t, http.MethodGet, "/api/v1/executions/"+exec.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartJobConflicts(t *testing.T) {
	f := newServerFixture(t)
	release := make(chan struct{})
	f.orch.RegisterRunner(jobs.TypeRulesProcessing, jobs.RunnerFunc(
		func(ctx context.Context, job *jobs.Job, exec *jobs.Execution) (jobs.RunStats, error) {
			<-release
			return jobs.RunStats{}, nil
		}))

	rec := f.do(t, http.MethodPost, "/api/v1/jobs/", CreateJobRequest{
		CampaignID: "camp-1", Type: jobs.TypeRulesProcessing,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/"+created.ID+"/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/jobs/"+created.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
}

func TestCreateJobRejectsBadType(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/jobs/", CreateJobRequest{
		CampaignID: "camp-1", Type: "REINDEX",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateExtractionJobValidatesSourceConfig(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/jobs/", CreateJobRequest{
		CampaignID:       "camp-1",
		Type:             jobs.TypeInitialLoad,
		DataSourceConfig: json.RawMessage(`{"dsn":""}`),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs/ghost/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryFailedEndpoint(t *testing.T) {
	f := newServerFixture(t)

	failed := &transaction.Transaction{
		ID: "txn-1", CampaignID: "camp-1", ExternalID: "ord-1",
		Status: transaction.StatusFailed, RetryCount: 1, MaxRetries: 3,
	}
	require.NoError(t, f.txns.Insert(context.Background(), failed))

	exhausted := &transaction.Transaction{
		ID: "txn-2", CampaignID: "camp-1", ExternalID: "ord-2",
		Status: transaction.StatusFailed, RetryCount: 3, MaxRetries: 3,
	}
	require.NoError(t, f.txns.Insert(context.Background(), exhausted))

	rec := f.do(t, http.MethodPost, "/api/v1/campaigns/camp-1/retry-failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RetryFailedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TransactionsReset, "only transactions with retry budget reset")

	got, err := f.txns.Get(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusPending, got.Status)

	got, err = f.txns.Get(context.Background(), "txn-2")
	require.NoError(t, err)
	assert.Equal(t, transaction.StatusFailed, got.Status)
}
