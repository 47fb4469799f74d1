// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gacp-engine/internal/common/errors"
	"gacp-engine/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every query below can
// run either standalone or inside WithinTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore implements Store over PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

const insertApplicationSQL = `
	INSERT INTO applications (
		id, application_number, farm_id, owner_id, area_type, service_type,
		status, phase1_status, phase2_status, rejection_count, batch_id,
		audit_result_id, auditor_id, audit_date, review_notes, form_data,
		archived_at, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

func (s *PostgresStore) CreateApplication(ctx context.Context, app *models.Application) error {
	formData, err := json.Marshal(app.FormData)
	if err != nil {
		return errors.NewStorageError("marshal form data", err)
	}

	_, err = s.q.ExecContext(ctx, insertApplicationSQL,
		app.ID, app.ApplicationNumber, app.FarmID, app.OwnerID, app.AreaType,
		app.ServiceType, app.Status, app.Phase1Status, app.Phase2Status,
		app.RejectionCount, app.BatchID, app.AuditResultID, app.AuditorID,
		app.AuditDate, app.ReviewNotes, formData, app.ArchivedAt,
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return errors.NewStorageError("insert application", err)
	}
	return nil
}

const selectApplicationSQL = `
	SELECT id, application_number, farm_id, owner_id, area_type, service_type,
		status, phase1_status, phase2_status, rejection_count, batch_id,
		audit_result_id, auditor_id, audit_date, review_notes, form_data,
		archived_at, created_at, updated_at
	FROM applications`

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	row := s.q.QueryRowContext(ctx, selectApplicationSQL+` WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("application", id)
		}
		return nil, errors.NewStorageError("select application", err)
	}
	return app, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var app models.Application
	var formData []byte
	var auditorID, reviewNotes sql.NullString

	err := row.Scan(
		&app.ID, &app.ApplicationNumber, &app.FarmID, &app.OwnerID,
		&app.AreaType, &app.ServiceType, &app.Status, &app.Phase1Status,
		&app.Phase2Status, &app.RejectionCount, &app.BatchID,
		&app.AuditResultID, &auditorID, &app.AuditDate, &reviewNotes,
		&formData, &app.ArchivedAt, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.AuditorID = auditorID.String
	app.ReviewNotes = reviewNotes.String
	if len(formData) > 0 {
		if err := json.Unmarshal(formData, &app.FormData); err != nil {
			return nil, err
		}
	}
	return &app, nil
}

const updateApplicationSQL = `
	UPDATE applications SET
		status = $2, phase1_status = $3, phase2_status = $4,
		rejection_count = $5, audit_result_id = $6, auditor_id = $7,
		audit_date = $8, review_notes = $9, form_data = $10,
		archived_at = $11, updated_at = $12
	WHERE id = $1`

func (s *PostgresStore) UpdateApplication(ctx context.Context, app *models.Application) error {
	formData, err := json.Marshal(app.FormData)
	if err != nil {
		return errors.NewStorageError("marshal form data", err)
	}
	app.UpdatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx, updateApplicationSQL,
		app.ID, app.Status, app.Phase1Status, app.Phase2Status,
		app.RejectionCount, app.AuditResultID, app.AuditorID, app.AuditDate,
		app.ReviewNotes, formData, app.ArchivedAt, app.UpdatedAt,
	)
	if err != nil {
		return errors.NewStorageError("update application", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("application", app.ID)
	}
	return nil
}

func (s *PostgresStore) ListBatch(ctx context.Context, batchID string) ([]*models.Application, error) {
	rows, err := s.q.QueryContext(ctx, selectApplicationSQL+` WHERE batch_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, errors.NewStorageError("select batch", err)
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan batch row", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate batch rows", err)
	}
	return out, nil
}

func (s *PostgresStore) CountApplicationsByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE owner_id = $1`, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewStorageError("count applications", err)
	}
	return n, nil
}

const insertPaymentSQL = `
	INSERT INTO payments (
		id, application_id, phase, amount, status, transaction_id, channel,
		expires_at, paid_at, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func (s *PostgresStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.q.ExecContext(ctx, insertPaymentSQL,
		p.ID, p.ApplicationID, p.Phase, p.Amount, p.Status, p.TransactionID,
		p.Channel, p.ExpiresAt, p.PaidAt, p.CreatedAt,
	)
	if err != nil {
		return errors.NewStorageError("insert payment", err)
	}
	return nil
}

func (s *PostgresStore) UpdatePayment(ctx context.Context, p *models.Payment) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = $2, channel = $3, paid_at = $4 WHERE id = $1`,
		p.ID, p.Status, p.Channel, p.PaidAt,
	)
	if err != nil {
		return errors.NewStorageError("update payment", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("payment", p.ID)
	}
	return nil
}

const selectPaymentSQL = `
	SELECT id, application_id, phase, amount, status, transaction_id, channel,
		expires_at, paid_at, created_at
	FROM payments`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var channel sql.NullString
	err := row.Scan(
		&p.ID, &p.ApplicationID, &p.Phase, &p.Amount, &p.Status,
		&p.TransactionID, &channel, &p.ExpiresAt, &p.PaidAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Channel = channel.String
	return &p, nil
}

func (s *PostgresStore) PaymentByTransaction(ctx context.Context, transactionID string) (*models.Payment, error) {
	row := s.q.QueryRowContext(ctx, selectPaymentSQL+` WHERE transaction_id = $1`, transactionID)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("payment", transactionID)
		}
		return nil, errors.NewStorageError("select payment by transaction", err)
	}
	return p, nil
}

func (s *PostgresStore) ActivePayment(ctx context.Context, applicationID string, phase int, now time.Time) (*models.Payment, error) {
	row := s.q.QueryRowContext(ctx,
		selectPaymentSQL+` WHERE application_id = $1 AND phase = $2 AND status = $3 AND expires_at > $4`,
		applicationID, phase, models.PaymentPending, now,
	)
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("active payment", applicationID)
		}
		return nil, errors.NewStorageError("select active payment", err)
	}
	return p, nil
}

func (s *PostgresStore) ExpiredPendingPayments(ctx context.Context, now time.Time) ([]*models.Payment, error) {
	rows, err := s.q.QueryContext(ctx,
		selectPaymentSQL+` WHERE status = $1 AND expires_at <= $2`,
		models.PaymentPending, now,
	)
	if err != nil {
		return nil, errors.NewStorageError("select expired payments", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan payment row", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("iterate payment rows", err)
	}
	return out, nil
}

const insertAuditResultSQL = `
	INSERT INTO audit_results (
		id, application_id, template_code, template_version, answers,
		category_scores, overall_score, decision, failure_reason, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

func (s *PostgresStore) CreateAuditResult(ctx context.Context, r *models.AuditResult) error {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return errors.NewStorageError("marshal answers", err)
	}
	scores, err := json.Marshal(r.CategoryScores)
	if err != nil {
		return errors.NewStorageError("marshal category scores", err)
	}
	var reason []byte
	if r.FailureReason != nil {
		reason, err = json.Marshal(r.FailureReason)
		if err != nil {
			return errors.NewStorageError("marshal failure reason", err)
		}
	}

	_, err = s.q.ExecContext(ctx, insertAuditResultSQL,
		r.ID, r.ApplicationID, r.TemplateCode, r.TemplateVersion, answers,
		scores, r.OverallScore, r.Decision, reason, r.CreatedAt,
	)
	if err != nil {
		return errors.NewStorageError("insert audit result", err)
	}
	return nil
}

func (s *PostgresStore) GetAuditResult(ctx context.Context, id string) (*models.AuditResult, error) {
	var r models.AuditResult
	var answers, scores, reason []byte

	err := s.q.QueryRowContext(ctx,
		`SELECT id, application_id, template_code, template_version, answers,
			category_scores, overall_score, decision, failure_reason, created_at
		FROM audit_results WHERE id = $1`, id,
	).Scan(
		&r.ID, &r.ApplicationID, &r.TemplateCode, &r.TemplateVersion,
		&answers, &scores, &r.OverallScore, &r.Decision, &reason, &r.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("audit result", id)
		}
		return nil, errors.NewStorageError("select audit result", err)
	}

	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &r.Answers); err != nil {
			return nil, errors.NewStorageError("unmarshal answers", err)
		}
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &r.CategoryScores); err != nil {
			return nil, errors.NewStorageError("unmarshal category scores", err)
		}
	}
	if len(reason) > 0 {
		r.FailureReason = &models.FailureReason{}
		if err := json.Unmarshal(reason, r.FailureReason); err != nil {
			return nil, errors.NewStorageError("unmarshal failure reason", err)
		}
	}
	return &r, nil
}

// WithinTx runs fn against a transaction-scoped store. A nested call reuses
// the surrounding transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin transaction", err)
	}

	txStore := &PostgresStore{db: s.db, q: tx}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.NewStorageError("rollback transaction", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit transaction", err)
	}
	return nil
}
