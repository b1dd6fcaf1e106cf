package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskelly/gomend/internal/testutil"
	"github.com/jskelly/gomend/pkg/approval"
	"github.com/jskelly/gomend/pkg/candidate"
	"github.com/jskelly/gomend/pkg/config"
	"github.com/jskelly/gomend/pkg/domain/healing"
	"github.com/jskelly/gomend/pkg/domain/types"
	"github.com/jskelly/gomend/pkg/engine"
	"github.com/jskelly/gomend/pkg/scoring"
	"github.com/jskelly/gomend/pkg/snapshot"
)

type testServer struct {
	base    string
	records *testutil.MemRecordRepository
	client  *http.Client
	token   string
}

func checkoutPage(class string) *snapshot.UiNode {
	return &snapshot.UiNode{
		Tag: "root",
		Children: []*snapshot.UiNode{
			{Tag: "form", Attrs: map[string]string{"id": "checkout"}, Children: []*snapshot.UiNode{
				{Tag: "input", Attrs: map[string]string{"name": "email"}, Role: "textbox", Name: "Email"},
				{
					Tag:   "button",
					Role:  "button",
					Name:  "Pay now",
					Text:  "Pay now",
					Attrs: map[string]string{"data-testid": "pay-button", "class": class},
				},
			}},
		},
	}
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.AuthToken = token
	cfg.Healing.Workers = 2

	records := testutil.NewMemRecordRepository()
	ledger := testutil.NewMemLedger(records)
	snaps := testutil.NewMemSnapshotStore(
		testutil.Snap("snap-good", checkoutPage("btn")),
		testutil.Snap("snap-fail", checkoutPage("btn-primary")),
	)
	history := testutil.NewMemHistoryStore()
	for _, kind := range []healing.StrategyKind{
		healing.KindAttributeMatch, healing.KindAccessibilityRole, healing.KindTextAnchor,
		healing.KindHierarchicalPosition, healing.KindVisualBoundingBox,
	} {
		history.Seed("acme", kind, 18, 20)
	}

	scorer, err := scoring.NewScorer(scoring.DefaultWeights(), history, &testutil.StaticSemanticProvider{Value: 0.9}, time.Second, nil)
	require.NoError(t, err)
	policy, err := approval.NewPolicy(cfg.Healing.ApprovalPolicy)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	eng, err := engine.New(cfg, engine.Deps{
		Records:   records,
		Ledger:    ledger,
		Snapshots: snaps,
		Scorer:    scorer,
		Generator: candidate.NewGenerator(nil),
		Validator: engine.NewResolveValidator(snaps, nil),
		History:   history,
		Policy:    policy,
		Metrics:   engine.NewMetrics(registry),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Start(ctx) }()
	t.Cleanup(cancel)

	srv, err := NewServer(cfg.Server, eng, approval.NewGateway(records, eng), registry, nil)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})

	return &testServer{
		base:    "http://" + srv.Address(),
		records: records,
		client:  &http.Client{Timeout: 10 * time.Second},
		token:   token,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.base+path, buf)
	require.NoError(t, err)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func payButtonBody(tier string) map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":              "acme",
		"test_id":                "checkout-flow",
		"step_index":             3,
		"risk_tier":              tier,
		"failure_snapshot_ref":   "snap-fail",
		"last_good_snapshot_ref": "snap-good",
		"old_locator":            "button.btn",
		"old_node_path":          []int{0, 1},
	}
}

func TestSubmitAndWaitCommits(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("non_production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var rec struct {
		ID         string          `json:"id"`
		State      string          `json:"state"`
		NewLocator string          `json:"new_locator"`
		Strategy   json.RawMessage `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "committed", rec.State)
	assert.Equal(t, `button[data-testid="pay-button"]`, rec.NewLocator)
	assert.NotEmpty(t, rec.Strategy)

	// The record is fetchable afterwards.
	resp, body = s.do(t, http.MethodGet, "/api/v1/records/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestSubmitAsyncAccepted(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures", payButtonBody("non_production"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var out struct {
		RecordID string `json:"record_id"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.NotEmpty(t, out.RecordID)
}

func TestSubmitInvalidBody(t *testing.T) {
	s := newTestServer(t, "")

	req, err := http.NewRequest(http.MethodPost, s.base+"/api/v1/failures", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPendingAndDecisionFlow(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var rec struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, "pending_approval", rec.State)

	resp, body = s.do(t, http.MethodGet, "/api/v1/pending?tenant=acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var pending struct {
		Pending []struct {
			ID                string `json:"id"`
			ReturnedForReview bool   `json:"returned_for_review"`
		} `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, rec.ID, pending.Pending[0].ID)
	assert.False(t, pending.Pending[0].ReturnedForReview)

	// Approve it.
	resp, body = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/decision",
		map[string]string{"decision": "approve", "actor": "reviewer@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var decided struct {
		State    string `json:"state"`
		Approver string `json:"approver"`
	}
	require.NoError(t, json.Unmarshal(body, &decided))
	assert.Equal(t, "committed", decided.State)
	assert.Equal(t, "reviewer@example.com", decided.Approver)

	// A second decision conflicts.
	resp, _ = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/decision",
		map[string]string{"decision": "reject", "actor": "other@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPendingRequiresTenant(t *testing.T) {
	s := newTestServer(t, "")

	resp, _ := s.do(t, http.MethodGet, "/api/v1/pending", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestServer(t, "")

	resp, _ := s.do(t, http.MethodGet, "/api/v1/records/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRollbackEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("non_production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))
	require.Equal(t, "committed", rec.State)

	resp, body = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/rollback",
		map[string]string{"actor": "oncall@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rolled struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &rolled))
	assert.Equal(t, "rolled_back", rolled.State)

	// Rolling back twice is an illegal transition.
	resp, _ = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/rollback", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRollbackExpiredWindow(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("non_production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))

	// Age the rollback window out behind the API's back.
	ctx := context.Background()
	stored, err := s.records.Get(ctx, types.RecordID(rec.ID))
	require.NoError(t, err)
	stored.RollbackDeadline = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.records.Save(ctx, stored))

	resp, _ = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/rollback", nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))

	resp, body = s.do(t, http.MethodPost, "/api/v1/records/"+rec.ID+"/cancel",
		map[string]string{"reason": "test run aborted"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "rejected", out.State)
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("non_production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &rec))

	resp, body = s.do(t, http.MethodGet, "/api/v1/audit?tenant=acme", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var audit struct {
		Entries []struct {
			RecordID string `json:"record_id"`
			ToState  string `json:"to_state"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body, &audit))
	require.NotEmpty(t, audit.Entries)
	assert.Equal(t, "detected", audit.Entries[0].ToState)

	resp, body = s.do(t, http.MethodGet, "/api/v1/records/"+rec.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &audit))
	assert.Equal(t, "committed", audit.Entries[len(audit.Entries)-1].ToState)

	// Tenant is required, timestamps must be RFC 3339.
	resp, _ = s.do(t, http.MethodGet, "/api/v1/audit", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/audit?tenant=acme&since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "sekrit")

	// Unauthenticated API calls are rejected.
	req, err := http.NewRequest(http.MethodGet, s.base+"/api/v1/pending?tenant=acme", nil)
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With the token the same call succeeds.
	resp2, _ := s.do(t, http.MethodGet, "/api/v1/pending?tenant=acme", nil)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	// Health and metrics stay open for probes and scrapers.
	for _, path := range []string{"/healthz", "/metrics"} {
		req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
		require.NoError(t, err)
		resp, err := s.client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t, "")

	resp, body := s.do(t, http.MethodPost, "/api/v1/failures?wait=1", payButtonBody("non_production"))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gomend_records_ingested_total")
}
