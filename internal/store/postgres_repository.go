/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Terminal transitions run inside a transaction whose first statement is a
 * conditional status update, so two concurrent deliveries for the same transfer
 * cannot both append a ledger entry or mark records paid.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Numeric columns are exchanged as text.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables owned by this service (idempotent).
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id UUID PRIMARY KEY,
			event_type TEXT NOT NULL,
			routing_key TEXT NOT NULL,
			transfer_id TEXT NOT NULL DEFAULT '',
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_attempt_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due
			ON webhook_deliveries (next_attempt_at)
			WHERE status = 'retrying';
	`)
	return err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLinkedIDs(ctx context.Context, q queryer, query string, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var linked uuid.UUID
		if err := rows.Scan(&linked); err != nil {
			return nil, err
		}
		ids = append(ids, linked)
	}
	return ids, rows.Err()
}

func parseNumeric(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", *raw, err)
	}
	return &value, nil
}

// statusGuard is the WHERE condition a transition to target needs on the current
// payment status. Failed is final for everything except a later failure report;
// succeeded may still fail when the money comes back.
func statusGuard(target domain.PaymentStatus) string {
	switch target {
	case domain.PaymentStatusFailed:
		return `status <> 'failed'`
	default:
		return `status NOT IN ('failed', 'succeeded')`
	}
}

func numericArg(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	s := value.String()
	return &s
}

// FindPaymentByWiseTransferID retrieves a generic payment by its Wise transfer id.
func (r *PostgresRepository) FindPaymentByWiseTransferID(ctx context.Context, transferID string) (*domain.GenericPayment, error) {
	query := `
		SELECT id, invoice_id, company_id, wise_credential_id, status, wise_transfer_id,
		       wise_transfer_status, wise_transfer_amount::text, wise_transfer_estimate,
		       created_at, updated_at
		FROM payments
		WHERE wise_transfer_id = $1
		LIMIT 1
	`
	var (
		p      domain.GenericPayment
		amount *string
	)
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&p.ID,
		&p.InvoiceID,
		&p.CompanyID,
		&p.WiseCredentialID,
		&p.Status,
		&p.WiseTransferID,
		&p.WiseTransferStatus,
		&amount,
		&p.WiseTransferEstimate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.WiseTransferAmount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindWiseEquityBuybackPaymentByTransferID retrieves a Wise-processed equity buyback payment.
func (r *PostgresRepository) FindWiseEquityBuybackPaymentByTransferID(ctx context.Context, transferID string) (*domain.EquityBuybackPayment, error) {
	query := `
		SELECT id, company_id, wise_credential_id, processor_name, status, transfer_id,
		       transfer_status, transfer_amount::text, wise_transfer_estimate, created_at, updated_at
		FROM equity_buyback_payments
		WHERE processor_name = $1 AND transfer_id = $2
		LIMIT 1
	`
	var (
		p      domain.EquityBuybackPayment
		amount *string
	)
	err := r.db.QueryRow(ctx, query, domain.ProcessorWise, transferID).Scan(
		&p.ID,
		&p.CompanyID,
		&p.WiseCredentialID,
		&p.ProcessorName,
		&p.Status,
		&p.ProviderTransferID,
		&p.TransferStatus,
		&amount,
		&p.WiseTransferEstimate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.TransferAmount, err = parseNumeric(amount); err != nil {
		return nil, err
	}

	p.EquityBuybackIDs, err = loadLinkedIDs(ctx, r.db, `
		SELECT equity_buyback_id FROM equity_buyback_payments_equity_buybacks
		WHERE equity_buyback_payment_id = $1
		ORDER BY equity_buyback_id
	`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load equity buybacks: %w", err)
	}
	return &p, nil
}

// FindWiseDividendPaymentByTransferID retrieves a Wise-processed dividend payment.
func (r *PostgresRepository) FindWiseDividendPaymentByTransferID(ctx context.Context, transferID string) (*domain.DividendPayment, error) {
	query := `
		SELECT id, wise_credential_id, processor_name, status, transfer_id,
		       transfer_status, transfer_amount::text, wise_transfer_estimate, created_at, updated_at
		FROM dividend_payments
		WHERE processor_name = $1 AND transfer_id = $2
		LIMIT 1
	`
	var (
		p      domain.DividendPayment
		amount *string
	)
	err := r.db.QueryRow(ctx, query, domain.ProcessorWise, transferID).Scan(
		&p.ID,
		&p.WiseCredentialID,
		&p.ProcessorName,
		&p.Status,
		&p.ProviderTransferID,
		&p.TransferStatus,
		&amount,
		&p.WiseTransferEstimate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if p.TransferAmount, err = parseNumeric(amount); err != nil {
		return nil, err
	}

	p.DividendIDs, err = loadLinkedIDs(ctx, r.db, `
		SELECT dividend_id FROM dividend_payments_dividends
		WHERE dividend_payment_id = $1
		ORDER BY dividend_id
	`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load dividends: %w", err)
	}
	return &p, nil
}

// ActiveCredentialExistsForProfile reports whether a non-deleted credential is registered for the profile.
func (r *PostgresRepository) ActiveCredentialExistsForProfile(ctx context.Context, profileID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM wise_credentials WHERE profile_id = $1 AND deleted_at IS NULL)`
	if err := r.db.QueryRow(ctx, query, profileID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// FindWiseCredentialByID loads a credential, including soft-deleted ones: a transfer
// created with a since-rotated credential is still queried with it.
func (r *PostgresRepository) FindWiseCredentialByID(ctx context.Context, credentialID uuid.UUID) (*domain.WiseCredential, error) {
	var c domain.WiseCredential
	query := `SELECT id, profile_id, api_key, deleted_at FROM wise_credentials WHERE id = $1`
	err := r.db.QueryRow(ctx, query, credentialID).Scan(&c.ID, &c.ProfileID, &c.APIKey, &c.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdatePaymentWiseTransferStatus records the provider state verbatim.
func (r *PostgresRepository) UpdatePaymentWiseTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	query := `UPDATE payments SET wise_transfer_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, transferStatus, paymentID)
	return err
}

// UpdateInvoiceStatus sets the status of an invoice.
func (r *PostgresRepository) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	query := `UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, string(status), invoiceID)
	return err
}

// FailPayment marks the payment and invoice failed and appends the reversal ledger entry.
func (r *PostgresRepository) FailPayment(ctx context.Context, params FailPaymentParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND `+statusGuard(domain.PaymentStatusFailed),
		string(domain.PaymentStatusFailed), params.PaymentID,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusUnchanged
	}

	if _, err := tx.Exec(ctx,
		`UPDATE invoices SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(domain.InvoiceStatusFailed), params.InvoiceID,
	); err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}

	entry := paymentFailedEntry(params, time.Now().UTC())
	if _, err := tx.Exec(ctx, `
		INSERT INTO balance_transactions (id, company_id, payment_id, amount_cents, transaction_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, entry.ID, entry.CompanyID, entry.PaymentID, entry.AmountCents, entry.TransactionType, entry.CreatedAt); err != nil {
		return fmt.Errorf("insert balance transaction: %w", err)
	}

	return tx.Commit(ctx)
}

// paymentFailedEntry is the reversal appended to the company balance when a payment fails.
func paymentFailedEntry(params FailPaymentParams, now time.Time) domain.BalanceTransaction {
	return domain.BalanceTransaction{
		ID:              uuid.New(),
		CompanyID:       params.CompanyID,
		PaymentID:       params.PaymentID,
		AmountCents:     params.LedgerAmountCents,
		TransactionType: domain.BalanceTransactionPaymentFailed,
		CreatedAt:       now,
	}
}

// SucceedPayment stores the settled amount and estimate and marks the invoice paid.
func (r *PostgresRepository) SucceedPayment(ctx context.Context, params SucceedPaymentParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = $1, wise_transfer_amount = $2::numeric, wise_transfer_estimate = $3, updated_at = NOW()
		WHERE id = $4 AND `+statusGuard(domain.PaymentStatusSucceeded),
		string(domain.PaymentStatusSucceeded), params.TransferAmount.String(), params.Estimate, params.PaymentID,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusUnchanged
	}

	if _, err := tx.Exec(ctx,
		`UPDATE invoices SET status = $1, paid_at = $2, payment_id = $3, updated_at = NOW() WHERE id = $4`,
		string(domain.InvoiceStatusPaid), params.PaidAt, params.PaymentID, params.InvoiceID,
	); err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) UpdateEquityBuybackPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	query := `UPDATE equity_buyback_payments SET transfer_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, transferStatus, paymentID)
	return err
}

func (r *PostgresRepository) UpdateDividendPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	query := `UPDATE dividend_payments SET transfer_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, transferStatus, paymentID)
	return err
}

type payoutTables struct {
	payments  string
	joinTable string
	joinFK    string
	recordFK  string
	records   string
}

var (
	equityBuybackTables = payoutTables{
		payments:  "equity_buyback_payments",
		joinTable: "equity_buyback_payments_equity_buybacks",
		joinFK:    "equity_buyback_payment_id",
		recordFK:  "equity_buyback_id",
		records:   "equity_buybacks",
	}
	dividendTables = payoutTables{
		payments:  "dividend_payments",
		joinTable: "dividend_payments_dividends",
		joinFK:    "dividend_payment_id",
		recordFK:  "dividend_id",
		records:   "dividends",
	}
)

// TransitionEquityBuybackPayment moves an equity buyback payment and its buybacks.
func (r *PostgresRepository) TransitionEquityBuybackPayment(ctx context.Context, params PayoutTransitionParams) error {
	return r.transitionPayout(ctx, equityBuybackTables, params)
}

// TransitionDividendPayment moves a dividend payment and its dividends.
func (r *PostgresRepository) TransitionDividendPayment(ctx context.Context, params PayoutTransitionParams) error {
	return r.transitionPayout(ctx, dividendTables, params)
}

func (r *PostgresRepository) transitionPayout(ctx context.Context, t payoutTables, params PayoutTransitionParams) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	statusQuery := fmt.Sprintf(`
		UPDATE %s
		SET status = $1,
		    transfer_amount = COALESCE($2::numeric, transfer_amount),
		    wise_transfer_estimate = COALESCE($3, wise_transfer_estimate),
		    updated_at = NOW()
		WHERE id = $4 AND %s
	`, t.payments, statusGuard(params.Target))
	result, err := tx.Exec(ctx, statusQuery, string(params.Target), numericArg(params.TransferAmount), params.Estimate, params.PaymentID)
	if err != nil {
		return fmt.Errorf("update %s status: %w", t.payments, err)
	}
	if result.RowsAffected() == 0 {
		return ErrStatusUnchanged
	}

	recordsQuery := fmt.Sprintf(`
		UPDATE %s SET status = $1, paid_at = $2, updated_at = NOW()
		WHERE id IN (SELECT %s FROM %s WHERE %s = $3)
	`, t.records, t.recordFK, t.joinTable, t.joinFK)
	if _, err := tx.Exec(ctx, recordsQuery, params.RecordStatus, params.RecordPaidAt, params.PaymentID); err != nil {
		return fmt.Errorf("update %s: %w", t.records, err)
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) findFirstInvestor(ctx context.Context, t payoutTables, paymentID uuid.UUID) (*domain.CompanyInvestor, error) {
	query := fmt.Sprintf(`
		SELECT ci.id, ci.user_id, ci.company_id
		FROM %s j
		JOIN %s rec ON rec.id = j.%s
		JOIN company_investors ci ON ci.id = rec.company_investor_id
		WHERE j.%s = $1
		ORDER BY rec.id
		LIMIT 1
	`, t.joinTable, t.records, t.recordFK, t.joinFK)

	var investor domain.CompanyInvestor
	err := r.db.QueryRow(ctx, query, paymentID).Scan(&investor.ID, &investor.UserID, &investor.CompanyID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvestorNotFound
		}
		return nil, err
	}
	return &investor, nil
}

// FindFirstDividendInvestor returns the investor of the first dividend linked to the payment.
func (r *PostgresRepository) FindFirstDividendInvestor(ctx context.Context, dividendPaymentID uuid.UUID) (*domain.CompanyInvestor, error) {
	return r.findFirstInvestor(ctx, dividendTables, dividendPaymentID)
}

// FindFirstEquityBuybackInvestor returns the investor of the first buyback linked to the payment.
func (r *PostgresRepository) FindFirstEquityBuybackInvestor(ctx context.Context, equityBuybackPaymentID uuid.UUID) (*domain.CompanyInvestor, error) {
	return r.findFirstInvestor(ctx, equityBuybackTables, equityBuybackPaymentID)
}

// FindInvestorContact loads the email details for a company investor.
func (r *PostgresRepository) FindInvestorContact(ctx context.Context, companyInvestorID uuid.UUID) (*domain.InvestorContact, error) {
	query := `
		SELECT ci.id, u.id, u.email, COALESCE(u.legal_name, ''), COALESCE(c.name, '')
		FROM company_investors ci
		JOIN users u ON u.id = ci.user_id
		LEFT JOIN companies c ON c.id = ci.company_id
		WHERE ci.id = $1
	`
	var contact domain.InvestorContact
	err := r.db.QueryRow(ctx, query, companyInvestorID).Scan(
		&contact.CompanyInvestorID,
		&contact.UserID,
		&contact.Email,
		&contact.LegalName,
		&contact.CompanyName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvestorNotFound
		}
		return nil, err
	}
	return &contact, nil
}

// RevertDividendPaymentForReissue soft-deletes the user's dividend bank account and
// returns every dividend of the payment to Issued with paid_at cleared.
func (r *PostgresRepository) RevertDividendPaymentForReissue(ctx context.Context, params RevertDividendPaymentParams) (RevertDividendPaymentResult, error) {
	var result RevertDividendPaymentResult

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	deleted, err := tx.Exec(ctx, `
		UPDATE wise_recipients SET deleted_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND used_for_dividends = TRUE AND deleted_at IS NULL
	`, params.UserID)
	if err != nil {
		return result, fmt.Errorf("mark bank account deleted: %w", err)
	}
	result.BankAccountDeleted = deleted.RowsAffected() > 0

	reverted, err := tx.Exec(ctx, `
		UPDATE dividends SET status = $1, paid_at = NULL, updated_at = NOW()
		WHERE id IN (SELECT dividend_id FROM dividend_payments_dividends WHERE dividend_payment_id = $2)
	`, domain.PayoutRecordIssued, params.DividendPaymentID)
	if err != nil {
		return result, fmt.Errorf("revert dividends: %w", err)
	}
	result.DividendsReverted = reverted.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return result, err
	}
	return result, nil
}

const deliveryColumns = `id, event_type, routing_key, transfer_id, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	var (
		d       domain.WebhookDelivery
		payload []byte
	)
	err := row.Scan(
		&d.ID,
		&d.EventType,
		&d.RoutingKey,
		&d.TransferID,
		&payload,
		&d.Status,
		&d.Attempts,
		&d.LastError,
		&d.NextAttemptAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Payload = payload
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]domain.WebhookDelivery, error) {
	defer rows.Close()
	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// CreateWebhookDelivery records an accepted webhook before it is queued.
func (r *PostgresRepository) CreateWebhookDelivery(ctx context.Context, delivery *domain.WebhookDelivery) error {
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	if delivery.Status == "" {
		delivery.Status = domain.DeliveryStatusPending
	}
	query := `
		INSERT INTO webhook_deliveries (id, event_type, routing_key, transfer_id, payload, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		delivery.ID,
		delivery.EventType,
		delivery.RoutingKey,
		delivery.TransferID,
		string(delivery.Payload),
		string(delivery.Status),
	).Scan(&delivery.CreatedAt, &delivery.UpdatedAt)
}

func (r *PostgresRepository) MarkDeliverySucceeded(ctx context.Context, deliveryID uuid.UUID, attempts int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_error = NULL, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $3
	`
	return r.execDeliveryUpdate(ctx, query, string(domain.DeliveryStatusSucceeded), attempts, deliveryID)
}

func (r *PostgresRepository) MarkDeliveryRetrying(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4, updated_at = NOW()
		WHERE id = $5
	`
	return r.execDeliveryUpdate(ctx, query, string(domain.DeliveryStatusRetrying), attempts, lastError, nextAttemptAt, deliveryID)
}

func (r *PostgresRepository) MarkDeliveryDead(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, last_error = $3, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $4
	`
	return r.execDeliveryUpdate(ctx, query, string(domain.DeliveryStatusDead), attempts, lastError, deliveryID)
}

func (r *PostgresRepository) execDeliveryUpdate(ctx context.Context, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// ClaimDueDeliveries moves retrying deliveries whose back-off elapsed back to pending
// and returns them. SKIP LOCKED lets several sweepers run side by side.
func (r *PostgresRepository) ClaimDueDeliveries(ctx context.Context, limit int, now time.Time) ([]domain.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending', next_attempt_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE status = 'retrying' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

// ListDeadDeliveries returns the most recently dead-lettered deliveries.
func (r *PostgresRepository) ListDeadDeliveries(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE status = 'dead' ORDER BY updated_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

// ResetDeliveryForReplay gives a dead delivery a fresh attempt budget.
func (r *PostgresRepository) ResetDeliveryForReplay(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending', attempts = 0, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'dead'
		RETURNING ` + deliveryColumns
	d, err := scanDelivery(r.db.QueryRow(ctx, query, deliveryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	return d, nil
}
