// internal/server/server_test.go
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacp-engine/internal/audit"
	"gacp-engine/internal/batch"
	"gacp-engine/internal/common/config"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/idempotency"
	"gacp-engine/internal/models"
	"gacp-engine/internal/payments"
	"gacp-engine/internal/storage"
	"gacp-engine/internal/workflow"
)

const testSecret = "webhook-secret"

const fieldTemplate = `{
	"templateCode": "GACP-FIELD",
	"version": "1.0",
	"categories": [
		{
			"code": "water",
			"weight": 1,
			"zeroTolerance": true,
			"items": [{"code": "water-source", "maxScore": 10, "weight": 1}]
		},
		{
			"code": "storage",
			"weight": 1,
			"items": [{"code": "storage-hygiene", "maxScore": 10, "weight": 1}]
		}
	]
}`

func newTestServer(t *testing.T) *httptest.Server {
	log := logger.NewTestLogger(t)
	store := storage.NewMemoryStore()
	gate := workflow.NewPhaseGate(config.WorkflowConfig{
		Phase1Fee:        5000,
		Phase2Fee:        25000,
		ResubmissionFee:  5000,
		RejectionLimit:   2,
		Phase1WindowDays: 7,
		Phase2WindowDays: 14,
	})

	registry, err := audit.NewRegistry(log)
	require.NoError(t, err)
	_, err = registry.RegisterJSON([]byte(fieldTemplate))
	require.NoError(t, err)
	scorer := audit.NewScoringEngine(registry, log)

	engine := workflow.NewEngine(store, gate, scorer, nil, log)
	splitter := batch.NewSplitter(store, engine, gate, log)
	guard := idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour, log)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	reconciler := payments.NewReconciler(store, engine, client, payments.NewLogAnomalyRecorder(log), testSecret, 72*time.Hour, log)

	srv := httptest.NewServer(New(engine, splitter, guard, reconciler, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload interface{}, headers map[string]string) (*http.Response, []byte) {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func draftPayload() map[string]interface{} {
	return map[string]interface{}{
		"farmId":      "farm-1",
		"ownerId":     "owner-1",
		"areaType":    "OUTDOOR",
		"serviceType": "NEW",
		"formData": map[string]interface{}{
			"applicantInfo": map[string]interface{}{"name": "Somchai", "phone": "0812345678"},
			"siteInfo":      map[string]interface{}{"plantId": "plant-1"},
		},
	}
}

func createDraft(t *testing.T, srv *httptest.Server) models.Application {
	resp, body := postJSON(t, srv.URL+"/applications/draft", draftPayload(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var app models.Application
	require.NoError(t, json.Unmarshal(body, &app))
	return app
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	app := createDraft(t, srv)
	assert.Equal(t, models.StatusDraft, app.Status)

	resp, _ := postJSON(t, srv.URL+"/applications/"+app.ID+"/submit", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/applications/"+app.ID+"/start-review", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/applications/"+app.ID+"/confirm-review",
		map[string]string{"outcome": "APPROVE_DOCS"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var reviewed models.Application
	require.NoError(t, json.Unmarshal(body, &reviewed))
	assert.Equal(t, models.StatusPayment1Pending, reviewed.Status)
}

func TestIllegalTransitionReturns409(t *testing.T) {
	srv := newTestServer(t)
	app := createDraft(t, srv)

	resp, _ := postJSON(t, srv.URL+"/applications/"+app.ID+"/begin-audit", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/applications/"+app.ID+"/confirm-review",
		map[string]string{"outcome": "APPROVE_DOCS"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Idempotency-Key": "draft-once"}

	resp1, body1 := postJSON(t, srv.URL+"/applications/draft", draftPayload(), headers)
	require.Equal(t, http.StatusCreated, resp1.StatusCode)

	resp2, body2 := postJSON(t, srv.URL+"/applications/draft", draftPayload(), headers)
	require.Equal(t, http.StatusCreated, resp2.StatusCode)
	assert.Equal(t, body1, body2)
}

func TestIdempotencyKeyConflictOnDifferentBody(t *testing.T) {
	srv := newTestServer(t)
	headers := map[string]string{"X-Idempotency-Key": "draft-once"}

	resp, _ := postJSON(t, srv.URL+"/applications/draft", draftPayload(), headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := draftPayload()
	other["farmId"] = "farm-2"
	resp, _ = postJSON(t, srv.URL+"/applications/draft", other, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/batch/submit", map[string]interface{}{
		"farmId":      "farm-1",
		"ownerId":     "owner-1",
		"serviceType": "NEW",
		"formData":    draftPayload()["formData"],
		"areaTypes":   []string{"INDOOR", "OUTDOOR", "GREENHOUSE"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result batch.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Len(t, result.Applications, 3)
	assert.Equal(t, int64(90000), result.TotalFee)

	getResp, err := http.Get(srv.URL + "/batch/" + result.BatchID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestPreviewFee(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/batch/preview-fee?areaTypes=INDOOR,OUTDOOR")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var preview batch.FeePreview
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&preview))
	assert.Equal(t, 2, preview.Count)
	assert.Equal(t, int64(30000), preview.FeePerArea)
	assert.Equal(t, int64(60000), preview.TotalFee)
}

func TestWebhookDrivesWorkflow(t *testing.T) {
	srv := newTestServer(t)
	app := createDraft(t, srv)

	for _, path := range []string{"/submit", "/start-review"} {
		resp, _ := postJSON(t, srv.URL+"/applications/"+app.ID+path, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := postJSON(t, srv.URL+"/applications/"+app.ID+"/confirm-review",
		map[string]string{"outcome": "APPROVE_DOCS"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/applications/"+app.ID+"/pay", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var pay struct {
		TransactionID string `json:"transactionId"`
		Amount        int64  `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &pay))
	assert.Equal(t, int64(5000), pay.Amount)

	fields := map[string]string{
		"mch_order_no": pay.TransactionID,
		"result":       "SUCCESS",
		"amount":       strconv.FormatInt(pay.Amount, 10),
	}
	fields["sign"] = payments.Sign(fields, testSecret)

	resp, body = postJSON(t, srv.URL+"/payments/webhook", fields, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "applied")

	// Replay is acknowledged without effect.
	resp, body = postJSON(t, srv.URL+"/payments/webhook", fields, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "duplicate")

	getResp, err := http.Get(srv.URL + "/applications/" + app.ID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var got models.Application
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, models.StatusPendingAuditSchedule, got.Status)
}

func TestWebhookAcknowledgesGarbage(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/payments/webhook",
		bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInspectionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	app := createDraft(t, srv)
	id := app.ID

	steps := []struct {
		path    string
		payload interface{}
	}{
		{"/submit", nil},
		{"/start-review", nil},
		{"/confirm-review", map[string]string{"outcome": "APPROVE_DOCS"}},
	}
	for _, step := range steps {
		resp, _ := postJSON(t, srv.URL+"/applications/"+id+step.path, step.payload, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, step.path)
	}

	// Pay phase 1 via webhook.
	resp, body := postJSON(t, srv.URL+"/applications/"+id+"/pay", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var pay struct {
		TransactionID string `json:"transactionId"`
		Amount        int64  `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &pay))
	fields := map[string]string{
		"mch_order_no": pay.TransactionID,
		"result":       "SUCCESS",
		"amount":       strconv.FormatInt(pay.Amount, 10),
	}
	fields["sign"] = payments.Sign(fields, testSecret)
	resp, _ = postJSON(t, srv.URL+"/payments/webhook", fields, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/applications/"+id+"/schedule-audit", map[string]interface{}{
		"auditorId": "auditor-1",
		"auditDate": time.Now().Add(72 * time.Hour),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Pay phase 2 via webhook.
	resp, body = postJSON(t, srv.URL+"/applications/"+id+"/pay", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &pay))
	fields = map[string]string{
		"mch_order_no": pay.TransactionID,
		"result":       "SUCCESS",
		"amount":       strconv.FormatInt(pay.Amount, 10),
	}
	fields["sign"] = payments.Sign(fields, testSecret)
	resp, _ = postJSON(t, srv.URL+"/payments/webhook", fields, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/applications/"+id+"/begin-audit", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/applications/"+id+"/inspection", map[string]interface{}{
		"templateCode":    "GACP-FIELD",
		"templateVersion": "1.0",
		"answers": []map[string]interface{}{
			{"itemCode": "water-source", "passed": true},
			{"itemCode": "storage-hygiene", "passed": true},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var decision struct {
		Decision     models.Decision `json:"decision"`
		OverallScore float64         `json:"overallScore"`
	}
	require.NoError(t, json.Unmarshal(body, &decision))
	assert.Equal(t, models.DecisionApproved, decision.Decision)
	assert.Equal(t, float64(100), decision.OverallScore)

	getResp, err := http.Get(srv.URL + "/applications/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	var got models.Application
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&got))
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestOversizedIdempotencyKeyRejected(t *testing.T) {
	srv := newTestServer(t)
	key := ""
	for i := 0; i < 65; i++ {
		key += "k"
	}
	resp, _ := postJSON(t, srv.URL+"/applications/draft", draftPayload(),
		map[string]string{"X-Idempotency-Key": key})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
