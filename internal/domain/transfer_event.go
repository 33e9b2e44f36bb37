package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Wise webhook event types handled by the service.
const (
	EventTypeTransferStateChange = "transfers#state-change"
	EventTypeTransferRefund      = "transfers#refund"
	EventTypeTransferPayoutFail  = "transfers#payout-failure"
)

// Wise transfer states.
const (
	TransferStateIncomingPaymentWaiting   = "incoming_payment_waiting"
	TransferStateIncomingPaymentInitiated = "incoming_payment_initiated"
	TransferStateProcessing               = "processing"
	TransferStateFundsConverted           = "funds_converted"
	TransferStateOutgoingPaymentSent      = "outgoing_payment_sent"
	TransferStateCancelled                = "cancelled"
	TransferStateFundsRefunded            = "funds_refunded"
	TransferStateBouncedBack              = "bounced_back"
	TransferStateChargedBack              = "charged_back"
)

var (
	failedTransferStates = map[string]struct{}{
		TransferStateCancelled:     {},
		TransferStateFundsRefunded: {},
		TransferStateBouncedBack:   {},
		TransferStateChargedBack:   {},
	}
	processingTransferStates = map[string]struct{}{
		TransferStateIncomingPaymentWaiting:   {},
		TransferStateIncomingPaymentInitiated: {},
		TransferStateProcessing:               {},
		TransferStateFundsConverted:           {},
	}
)

// IsFailedTransferState reports whether the provider state means the money will not arrive.
func IsFailedTransferState(state string) bool {
	_, ok := failedTransferStates[normalizeState(state)]
	return ok
}

// IsProcessingTransferState reports whether the provider is still moving the money.
func IsProcessingTransferState(state string) bool {
	_, ok := processingTransferStates[normalizeState(state)]
	return ok
}

// IsSentTransferState reports whether the provider has paid the money out.
func IsSentTransferState(state string) bool {
	return normalizeState(state) == TransferStateOutgoingPaymentSent
}

func normalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// FlexibleID accepts identifiers sent either as JSON strings or JSON numbers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string { return string(id) }

// WiseWebhookEvent is the top-level structure of a Wise webhook payload.
type WiseWebhookEvent struct {
	EventType     string            `json:"event_type"`
	SchemaVersion string            `json:"schema_version,omitempty"`
	SentAt        string            `json:"sent_at,omitempty"`
	Data          WiseEventData     `json:"data"`
	ErrorDetails  *WiseErrorDetails `json:"error_details,omitempty"`
}

// WiseEventData holds the resource the event is about and its state change.
type WiseEventData struct {
	Resource      WiseEventResource `json:"resource"`
	CurrentState  string            `json:"current_state,omitempty"`
	PreviousState string            `json:"previous_state,omitempty"`
	OccurredAt    string            `json:"occurred_at,omitempty"`
	ErrorDetails  *WiseErrorDetails `json:"error_details,omitempty"`
}

// WiseEventResource identifies the transfer. State-change and payout-failure events
// carry `id`; refund events carry `transferId` and the refunded `amount`.
type WiseEventResource struct {
	ID         FlexibleID       `json:"id,omitempty"`
	TransferID FlexibleID       `json:"transferId,omitempty"`
	ProfileID  FlexibleID       `json:"profile_id,omitempty"`
	AccountID  FlexibleID       `json:"account_id,omitempty"`
	Type       string           `json:"type,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   string           `json:"currency,omitempty"`
}

// WiseErrorDetails is attached to payout failure events.
type WiseErrorDetails struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TransferEventKind classifies a webhook after parsing.
type TransferEventKind string

const (
	TransferEventStateChange   TransferEventKind = "state_change"
	TransferEventRefund        TransferEventKind = "refund"
	TransferEventPayoutFailure TransferEventKind = "payout_failure"
)

// KindForEventType maps a Wise event type to the event kind handled internally.
func KindForEventType(eventType string) (TransferEventKind, bool) {
	switch strings.TrimSpace(eventType) {
	case EventTypeTransferStateChange:
		return TransferEventStateChange, true
	case EventTypeTransferRefund:
		return TransferEventRefund, true
	case EventTypeTransferPayoutFail:
		return TransferEventPayoutFailure, true
	default:
		return "", false
	}
}

// TransferEvent is the normalised, immutable view of one webhook delivery.
// CurrentState is kept as sent by the provider; compare it through the state predicates.
type TransferEvent struct {
	Kind          TransferEventKind
	TransferID    string
	ProfileID     string
	CurrentState  string
	OccurredAt    time.Time
	RefundAmount  *decimal.Decimal
	FailureReason string
}

var occurredAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseProviderTime parses the timestamp formats Wise uses in payloads and API responses.
func ParseProviderTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range occurredAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// ToTransferEvent normalises the payload. Unknown event types return an error.
// A missing transfer id is not an error: the returned event has an empty TransferID.
func (e WiseWebhookEvent) ToTransferEvent() (TransferEvent, error) {
	kind, ok := KindForEventType(e.EventType)
	if !ok {
		return TransferEvent{}, fmt.Errorf("unsupported event type %q", e.EventType)
	}

	event := TransferEvent{
		Kind:         kind,
		ProfileID:    e.Data.Resource.ProfileID.String(),
		CurrentState: e.Data.CurrentState,
	}

	if kind == TransferEventRefund {
		event.TransferID = firstNonEmpty(e.Data.Resource.TransferID.String(), e.Data.Resource.ID.String())
		event.RefundAmount = e.Data.Resource.Amount
	} else {
		event.TransferID = firstNonEmpty(e.Data.Resource.ID.String(), e.Data.Resource.TransferID.String())
	}

	if e.Data.OccurredAt != "" {
		occurredAt, err := ParseProviderTime(e.Data.OccurredAt)
		if err != nil {
			return TransferEvent{}, fmt.Errorf("occurred_at: %w", err)
		}
		event.OccurredAt = occurredAt
	}

	if e.ErrorDetails != nil {
		event.FailureReason = strings.TrimSpace(e.ErrorDetails.Description)
	} else if e.Data.ErrorDetails != nil {
		event.FailureReason = strings.TrimSpace(e.Data.ErrorDetails.Description)
	}

	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
