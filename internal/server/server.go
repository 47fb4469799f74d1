// Package server is the thin HTTP boundary over the workflow engine. It
// parses and validates payloads, runs mutating requests through the
// idempotency guard, and maps workflow errors to status codes. No business
// rule lives here.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gacp-engine/internal/batch"
	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/common/logger"
	"gacp-engine/internal/idempotency"
	"gacp-engine/internal/models"
	"gacp-engine/internal/payments"
	"gacp-engine/internal/workflow"
)

const idempotencyHeader = "X-Idempotency-Key"

// Server routes certification API requests.
type Server struct {
	engine     *workflow.Engine
	splitter   *batch.Splitter
	guard      *idempotency.Guard
	reconciler *payments.Reconciler
	log        logger.Logger
}

func New(engine *workflow.Engine, splitter *batch.Splitter, guard *idempotency.Guard, reconciler *payments.Reconciler, log logger.Logger) *Server {
	return &Server{
		engine:     engine,
		splitter:   splitter,
		guard:      guard,
		reconciler: reconciler,
		log:        log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /applications/draft", s.guarded(s.createDraft))
	mux.HandleFunc("GET /applications/{id}", s.getApplication)
	mux.HandleFunc("POST /applications/{id}/submit", s.guarded(s.submitForReview))
	mux.HandleFunc("POST /applications/{id}/start-review", s.guarded(s.startReview))
	mux.HandleFunc("POST /applications/{id}/confirm-review", s.guarded(s.confirmReview))
	mux.HandleFunc("POST /applications/{id}/pay", s.guarded(s.initiatePayment))
	mux.HandleFunc("POST /applications/{id}/schedule-audit", s.guarded(s.scheduleAudit))
	mux.HandleFunc("POST /applications/{id}/begin-audit", s.guarded(s.beginAudit))
	mux.HandleFunc("POST /applications/{id}/inspection", s.guarded(s.submitInspection))
	mux.HandleFunc("POST /applications/{id}/cancel", s.guarded(s.cancel))
	mux.HandleFunc("POST /applications/{id}/archive", s.guarded(s.archive))

	mux.HandleFunc("POST /batch/submit", s.guarded(s.submitBatch))
	mux.HandleFunc("GET /batch/preview-fee", s.previewFee)
	mux.HandleFunc("GET /batch/{id}", s.getBatch)
	mux.HandleFunc("POST /batch/{id}/confirm-phase1", s.guarded(s.confirmBatchPhase1))

	mux.HandleFunc("POST /payments/webhook", s.paymentWebhook)

	return mux
}

// operation produces a response for a guarded request. The body is already
// read so the guard can fingerprint it.
type operation func(r *http.Request, body []byte) (*idempotency.Response, error)

// guarded wraps a mutating handler with the idempotency guard. A replayed
// key returns the cached response verbatim; an in-flight key is rejected.
func (s *Server) guarded(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, errors.NewValidationError("unreadable request body"))
			return
		}

		info := idempotency.RequestInfo{
			Actor:  r.Header.Get("X-Actor-ID"),
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   body,
		}
		key, err := idempotency.Key(r.Header.Get(idempotencyHeader), info)
		if err != nil {
			s.writeError(w, err)
			return
		}

		resp, _, err := s.guard.Do(r.Context(), key, info.Fingerprint(), func(ctx context.Context) (*idempotency.Response, error) {
			return op(r.WithContext(ctx), body)
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	}
}

func jsonResponse(status int, v interface{}) (*idempotency.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &idempotency.Response{StatusCode: status, Body: body}, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var wfErr *errors.WorkflowError
	status := http.StatusInternalServerError
	if stderrors.As(err, &wfErr) {
		status = wfErr.HTTPStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("writing response failed", nil)
	}
}

func (s *Server) createDraft(r *http.Request, body []byte) (*idempotency.Response, error) {
	var draft models.DraftRequest
	if err := json.Unmarshal(body, &draft); err != nil {
		return nil, errors.NewValidationError("malformed draft payload: " + err.Error())
	}
	app, err := s.engine.Create(r.Context(), draft)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusCreated, app)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	app, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

func (s *Server) submitForReview(r *http.Request, _ []byte) (*idempotency.Response, error) {
	app, err := s.engine.SubmitForReview(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) startReview(r *http.Request, _ []byte) (*idempotency.Response, error) {
	app, err := s.engine.StartDocumentReview(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) confirmReview(r *http.Request, body []byte) (*idempotency.Response, error) {
	var req struct {
		Outcome models.ReviewOutcome `json:"outcome"`
		Notes   string               `json:"notes"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.NewValidationError("malformed review payload: " + err.Error())
	}
	app, err := s.engine.RecordReviewDecision(r.Context(), r.PathValue("id"), req.Outcome, req.Notes)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) initiatePayment(r *http.Request, _ []byte) (*idempotency.Response, error) {
	payment, err := s.engine.InitiatePayment(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusCreated, map[string]interface{}{
		"transactionId": payment.TransactionID,
		"phase":         payment.Phase,
		"amount":        payment.Amount,
		"expiresAt":     payment.ExpiresAt,
	})
}

func (s *Server) scheduleAudit(r *http.Request, body []byte) (*idempotency.Response, error) {
	var req struct {
		AuditorID string    `json:"auditorId"`
		AuditDate time.Time `json:"auditDate"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.NewValidationError("malformed schedule payload: " + err.Error())
	}
	app, err := s.engine.ScheduleAudit(r.Context(), r.PathValue("id"), req.AuditDate, req.AuditorID)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) beginAudit(r *http.Request, _ []byte) (*idempotency.Response, error) {
	app, err := s.engine.BeginAudit(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) submitInspection(r *http.Request, body []byte) (*idempotency.Response, error) {
	var req struct {
		TemplateCode    string              `json:"templateCode"`
		TemplateVersion string              `json:"templateVersion"`
		Answers         []models.ItemAnswer `json:"answers"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.NewValidationError("malformed inspection payload: " + err.Error())
	}
	result, err := s.engine.SubmitAuditResult(r.Context(), r.PathValue("id"), req.TemplateCode, req.TemplateVersion, req.Answers)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"decision":      result.Decision,
		"overallScore":  result.OverallScore,
		"failureReason": result.FailureReason,
		"auditResultId": result.ID,
	})
}

func (s *Server) cancel(r *http.Request, _ []byte) (*idempotency.Response, error) {
	app, err := s.engine.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) archive(r *http.Request, _ []byte) (*idempotency.Response, error) {
	app, err := s.engine.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, app)
}

func (s *Server) submitBatch(r *http.Request, body []byte) (*idempotency.Response, error) {
	var req batch.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errors.NewValidationError("malformed batch payload: " + err.Error())
	}
	result, err := s.splitter.SubmitBatch(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusCreated, result)
}

func (s *Server) previewFee(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("areaTypes")
	var areaTypes []models.AreaType
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			areaTypes = append(areaTypes, models.AreaType(part))
		}
	}

	preview, err := s.splitter.PreviewFee(areaTypes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	apps, err := s.splitter.GetBatchApplications(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, apps)
}

func (s *Server) confirmBatchPhase1(r *http.Request, _ []byte) (*idempotency.Response, error) {
	apps, err := s.splitter.ConfirmBatchPhase1(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	return jsonResponse(http.StatusOK, apps)
}

// paymentWebhook is deliberately not behind the idempotency guard: the
// reconciler has its own per-transaction dedup, and the provider must see a
// 200 for anomalies and duplicates or it will retry forever.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	body, err := io.ReadAll(r.Body)
	if err != nil || json.Unmarshal(body, &fields) != nil {
		// Unknown/invalid payloads are acknowledged, per the provider
		// contract.
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	outcome, err := s.reconciler.Process(r.Context(), fields)
	if err != nil {
		// Infrastructure failure: let the provider retry.
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
