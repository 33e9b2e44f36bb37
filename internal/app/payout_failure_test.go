package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/domain"
)

func newDividendPayment(transferID string) *domain.DividendPayment {
	return &domain.DividendPayment{
		ID:                 uuid.New(),
		ProcessorName:      domain.ProcessorWise,
		Status:             domain.PaymentStatusSucceeded,
		ProviderTransferID: transferID,
		DividendIDs:        []uuid.UUID{uuid.New(), uuid.New()},
	}
}

func TestHandlePayoutFailure_RevertsDividendsAndNotifiesInvestor(t *testing.T) {
	payment := newDividendPayment("P1")
	investor := &domain.CompanyInvestor{ID: uuid.New(), UserID: uuid.New(), CompanyID: uuid.New()}
	repo := &reconcileRepoStub{dividend: payment, investor: investor}
	notifier := &notifierStub{}
	service := NewPayoutFailureService(repo, notifier, discardLogger())

	event := domain.TransferEvent{
		Kind:          domain.TransferEventPayoutFailure,
		TransferID:    "P1",
		FailureReason: "Recipient account closed",
	}
	if err := service.HandlePayoutFailure(context.Background(), event); err != nil {
		t.Fatalf("HandlePayoutFailure returned error: %v", err)
	}

	if len(repo.reverts) != 1 {
		t.Fatalf("expected one revert, got %d", len(repo.reverts))
	}
	if repo.reverts[0].DividendPaymentID != payment.ID || repo.reverts[0].UserID != investor.UserID {
		t.Fatalf("revert applied to the wrong records: %+v", repo.reverts[0])
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.Template != domain.TemplateDividendPaymentFailed || sent.Reason != "Recipient account closed" || sent.CompanyInvestorID != investor.ID {
		t.Fatalf("unexpected notification %+v", sent)
	}
}

func TestHandlePayoutFailure_NoInvestorPerformsNoWrites(t *testing.T) {
	repo := &reconcileRepoStub{dividend: newDividendPayment("P2")}
	notifier := &notifierStub{}
	service := NewPayoutFailureService(repo, notifier, discardLogger())

	event := domain.TransferEvent{Kind: domain.TransferEventPayoutFailure, TransferID: "P2"}
	if err := service.HandlePayoutFailure(context.Background(), event); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if repo.writes() != 0 {
		t.Fatalf("expected zero writes, got %d", repo.writes())
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no notification, got %d", len(notifier.sent))
	}
}

func TestHandlePayoutFailure_UnknownPaymentIsNoop(t *testing.T) {
	repo := &reconcileRepoStub{}
	notifier := &notifierStub{}
	service := NewPayoutFailureService(repo, notifier, discardLogger())

	event := domain.TransferEvent{Kind: domain.TransferEventPayoutFailure, TransferID: "nope"}
	if err := service.HandlePayoutFailure(context.Background(), event); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
	if repo.writes() != 0 || len(notifier.sent) != 0 {
		t.Fatal("expected nothing to happen for an unknown dividend payment")
	}
}

func TestHandlePayoutFailure_NotificationFailureIsRetried(t *testing.T) {
	enqueueErr := errors.New("broker down")
	repo := &reconcileRepoStub{
		dividend: newDividendPayment("P3"),
		investor: &domain.CompanyInvestor{ID: uuid.New(), UserID: uuid.New()},
	}
	service := NewPayoutFailureService(repo, &notifierStub{err: enqueueErr}, discardLogger())

	event := domain.TransferEvent{Kind: domain.TransferEventPayoutFailure, TransferID: "P3"}
	if err := service.HandlePayoutFailure(context.Background(), event); !errors.Is(err, enqueueErr) {
		t.Fatalf("expected enqueue error to propagate, got %v", err)
	}
}
