package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
	"github.com/transfa/payout-webhook-service/pkg/wiseclient"
)

type reconcileRepoStub struct {
	store.Repository

	generic  *domain.GenericPayment
	buyback  *domain.EquityBuybackPayment
	dividend *domain.DividendPayment
	findErr  error

	credential       *domain.WiseCredential
	investor         *domain.CompanyInvestor
	tenantProfiles   map[string]bool
	tenantLookups    int
	statusUnchanged  bool
	recordedStates   []string
	invoiceStatuses  []domain.InvoiceStatus
	failCalls        []store.FailPaymentParams
	succeedCalls     []store.SucceedPaymentParams
	buybackMoves     []store.PayoutTransitionParams
	dividendMoves    []store.PayoutTransitionParams
	reverts          []store.RevertDividendPaymentParams
	paymentLookups   int
	deliveryOutcomes []deliveryOutcome
	markErr          error
}

type deliveryOutcome struct {
	id        uuid.UUID
	status    domain.DeliveryStatus
	attempts  int
	lastError string
	nextAt    time.Time
}

func (s *reconcileRepoStub) writes() int {
	return len(s.invoiceStatuses) + len(s.failCalls) + len(s.succeedCalls) +
		len(s.buybackMoves) + len(s.dividendMoves) + len(s.reverts)
}

func (s *reconcileRepoStub) FindPaymentByWiseTransferID(ctx context.Context, transferID string) (*domain.GenericPayment, error) {
	s.paymentLookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.generic == nil || s.generic.WiseTransferID != transferID {
		return nil, store.ErrPaymentNotFound
	}
	return s.generic, nil
}

func (s *reconcileRepoStub) FindWiseEquityBuybackPaymentByTransferID(ctx context.Context, transferID string) (*domain.EquityBuybackPayment, error) {
	if s.buyback == nil || s.buyback.ProviderTransferID != transferID {
		return nil, store.ErrPaymentNotFound
	}
	return s.buyback, nil
}

func (s *reconcileRepoStub) FindWiseDividendPaymentByTransferID(ctx context.Context, transferID string) (*domain.DividendPayment, error) {
	if s.dividend == nil || s.dividend.ProviderTransferID != transferID {
		return nil, store.ErrPaymentNotFound
	}
	return s.dividend, nil
}

func (s *reconcileRepoStub) ActiveCredentialExistsForProfile(ctx context.Context, profileID string) (bool, error) {
	s.tenantLookups++
	return s.tenantProfiles[profileID], nil
}

func (s *reconcileRepoStub) FindWiseCredentialByID(ctx context.Context, credentialID uuid.UUID) (*domain.WiseCredential, error) {
	if s.credential == nil || s.credential.ID != credentialID {
		return nil, store.ErrCredentialNotFound
	}
	return s.credential, nil
}

func (s *reconcileRepoStub) UpdatePaymentWiseTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	s.recordedStates = append(s.recordedStates, transferStatus)
	return nil
}

func (s *reconcileRepoStub) UpdateEquityBuybackPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	s.recordedStates = append(s.recordedStates, transferStatus)
	return nil
}

func (s *reconcileRepoStub) UpdateDividendPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error {
	s.recordedStates = append(s.recordedStates, transferStatus)
	return nil
}

func (s *reconcileRepoStub) UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error {
	s.invoiceStatuses = append(s.invoiceStatuses, status)
	return nil
}

func (s *reconcileRepoStub) FailPayment(ctx context.Context, params store.FailPaymentParams) error {
	if s.statusUnchanged {
		return store.ErrStatusUnchanged
	}
	s.failCalls = append(s.failCalls, params)
	return nil
}

func (s *reconcileRepoStub) SucceedPayment(ctx context.Context, params store.SucceedPaymentParams) error {
	if s.statusUnchanged {
		return store.ErrStatusUnchanged
	}
	s.succeedCalls = append(s.succeedCalls, params)
	return nil
}

func (s *reconcileRepoStub) TransitionEquityBuybackPayment(ctx context.Context, params store.PayoutTransitionParams) error {
	if s.statusUnchanged {
		return store.ErrStatusUnchanged
	}
	s.buybackMoves = append(s.buybackMoves, params)
	return nil
}

func (s *reconcileRepoStub) TransitionDividendPayment(ctx context.Context, params store.PayoutTransitionParams) error {
	if s.statusUnchanged {
		return store.ErrStatusUnchanged
	}
	s.dividendMoves = append(s.dividendMoves, params)
	return nil
}

func (s *reconcileRepoStub) FindFirstDividendInvestor(ctx context.Context, dividendPaymentID uuid.UUID) (*domain.CompanyInvestor, error) {
	if s.investor == nil {
		return nil, store.ErrInvestorNotFound
	}
	return s.investor, nil
}

func (s *reconcileRepoStub) FindFirstEquityBuybackInvestor(ctx context.Context, equityBuybackPaymentID uuid.UUID) (*domain.CompanyInvestor, error) {
	if s.investor == nil {
		return nil, store.ErrInvestorNotFound
	}
	return s.investor, nil
}

func (s *reconcileRepoStub) RevertDividendPaymentForReissue(ctx context.Context, params store.RevertDividendPaymentParams) (store.RevertDividendPaymentResult, error) {
	s.reverts = append(s.reverts, params)
	return store.RevertDividendPaymentResult{BankAccountDeleted: true, DividendsReverted: 2}, nil
}

func (s *reconcileRepoStub) MarkDeliverySucceeded(ctx context.Context, deliveryID uuid.UUID, attempts int) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.deliveryOutcomes = append(s.deliveryOutcomes, deliveryOutcome{id: deliveryID, status: domain.DeliveryStatusSucceeded, attempts: attempts})
	return nil
}

func (s *reconcileRepoStub) MarkDeliveryRetrying(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string, nextAttemptAt time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.deliveryOutcomes = append(s.deliveryOutcomes, deliveryOutcome{id: deliveryID, status: domain.DeliveryStatusRetrying, attempts: attempts, lastError: lastError, nextAt: nextAttemptAt})
	return nil
}

func (s *reconcileRepoStub) MarkDeliveryDead(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.deliveryOutcomes = append(s.deliveryOutcomes, deliveryOutcome{id: deliveryID, status: domain.DeliveryStatusDead, attempts: attempts, lastError: lastError})
	return nil
}

type wiseProviderStub struct {
	sourceValue    decimal.Decimal
	targetValue    decimal.Decimal
	estimate       string
	err            error
	transferCalls  int
	estimateCalls  int
	lastAPIKey     string
	lastTransferID string
}

func (p *wiseProviderStub) GetTransfer(ctx context.Context, apiKey, transferID string) (*wiseclient.Transfer, error) {
	p.transferCalls++
	p.lastAPIKey = apiKey
	p.lastTransferID = transferID
	if p.err != nil {
		return nil, p.err
	}
	return &wiseclient.Transfer{SourceValue: p.sourceValue, TargetValue: p.targetValue}, nil
}

func (p *wiseProviderStub) GetDeliveryEstimate(ctx context.Context, apiKey, transferID string) (*wiseclient.DeliveryEstimate, error) {
	p.estimateCalls++
	if p.err != nil {
		return nil, p.err
	}
	return &wiseclient.DeliveryEstimate{EstimatedDeliveryDate: p.estimate}, nil
}

func (p *wiseProviderStub) calls() int {
	return p.transferCalls + p.estimateCalls
}

type notifierStub struct {
	sent []domain.InvestorNotification
	err  error
}

func (n *notifierStub) Enqueue(ctx context.Context, notification domain.InvestorNotification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notification)
	return nil
}

var errDatabaseDown = errors.New("database unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(repo *reconcileRepoStub, provider *wiseProviderStub, notifier *notifierStub) *Dispatcher {
	return NewDispatcher(repo, NewStateEnricher(repo, provider), notifier, discardLogger())
}

func newCredential() *domain.WiseCredential {
	return &domain.WiseCredential{ID: uuid.New(), ProfileID: "16000001", APIKey: "tenant-key"}
}

func newGenericPayment(transferID string, status domain.PaymentStatus, credential *domain.WiseCredential) *domain.GenericPayment {
	return &domain.GenericPayment{
		ID:               uuid.New(),
		InvoiceID:        uuid.New(),
		CompanyID:        uuid.New(),
		WiseCredentialID: &credential.ID,
		Status:           status,
		WiseTransferID:   transferID,
	}
}

func mustDecimal(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}
