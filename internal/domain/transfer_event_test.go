package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func decodeEvent(t *testing.T, raw string) WiseWebhookEvent {
	t.Helper()
	var event WiseWebhookEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func TestToTransferEvent_StateChange(t *testing.T) {
	event := decodeEvent(t, `{
		"event_type": "transfers#state-change",
		"data": {
			"resource": {"id": 111, "profile_id": 16000001, "type": "transfer"},
			"current_state": " Outgoing_Payment_Sent ",
			"occurred_at": "2024-03-04 10:15:00"
		}
	}`)

	got, err := event.ToTransferEvent()
	if err != nil {
		t.Fatalf("ToTransferEvent returned error: %v", err)
	}
	if got.Kind != TransferEventStateChange || got.TransferID != "111" || got.ProfileID != "16000001" {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.CurrentState != " Outgoing_Payment_Sent " {
		t.Fatalf("expected provider state kept as sent, got %q", got.CurrentState)
	}
	if !IsSentTransferState(got.CurrentState) {
		t.Fatalf("expected %q to match the sent state", got.CurrentState)
	}
	want := time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)
	if !got.OccurredAt.Equal(want) {
		t.Fatalf("expected occurred_at %s, got %s", want, got.OccurredAt)
	}
}

func TestToTransferEvent_RefundUsesTransferID(t *testing.T) {
	event := decodeEvent(t, `{
		"event_type": "transfers#refund",
		"data": {"resource": {"id": "refund-9", "transferId": "48290", "profile_id": "16000001", "amount": 500, "currency": "USD"}}
	}`)

	got, err := event.ToTransferEvent()
	if err != nil {
		t.Fatalf("ToTransferEvent returned error: %v", err)
	}
	if got.Kind != TransferEventRefund || got.TransferID != "48290" {
		t.Fatalf("unexpected refund event %+v", got)
	}
	if got.RefundAmount == nil || !got.RefundAmount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected refund amount 500, got %v", got.RefundAmount)
	}
}

func TestToTransferEvent_PayoutFailureReason(t *testing.T) {
	event := decodeEvent(t, `{
		"event_type": "transfers#payout-failure",
		"data": {
			"resource": {"id": 7},
			"error_details": {"code": "ACCOUNT_CLOSED", "description": "Recipient account closed"}
		}
	}`)

	got, err := event.ToTransferEvent()
	if err != nil {
		t.Fatalf("ToTransferEvent returned error: %v", err)
	}
	if got.FailureReason != "Recipient account closed" {
		t.Fatalf("expected reason from data.error_details, got %q", got.FailureReason)
	}

	event.ErrorDetails = &WiseErrorDetails{Description: "top level wins"}
	got, _ = event.ToTransferEvent()
	if got.FailureReason != "top level wins" {
		t.Fatalf("expected top-level reason, got %q", got.FailureReason)
	}
}

func TestToTransferEvent_Errors(t *testing.T) {
	if _, err := decodeEvent(t, `{"event_type":"balances#credit","data":{"resource":{"id":1}}}`).ToTransferEvent(); err == nil {
		t.Fatal("expected error for unsupported event type")
	}
	if _, err := decodeEvent(t, `{"event_type":"transfers#state-change","data":{"resource":{"id":1},"occurred_at":"yesterday"}}`).ToTransferEvent(); err == nil {
		t.Fatal("expected error for unparsable occurred_at")
	}

	got, err := decodeEvent(t, `{"event_type":"transfers#state-change","data":{"resource":{}}}`).ToTransferEvent()
	if err != nil {
		t.Fatalf("missing transfer id should not fail, got %v", err)
	}
	if got.TransferID != "" {
		t.Fatalf("expected empty transfer id, got %q", got.TransferID)
	}
}

func TestFlexibleID_RejectsObjects(t *testing.T) {
	var id FlexibleID
	if err := json.Unmarshal([]byte(`{"a":1}`), &id); err == nil {
		t.Fatal("expected error for object identifier")
	}
	if err := json.Unmarshal([]byte(`null`), &id); err != nil || id != "" {
		t.Fatalf("expected null to decode to empty id, got %q (%v)", id, err)
	}
}

func TestTransferStatePredicates(t *testing.T) {
	tests := []struct {
		state      string
		failed     bool
		processing bool
		sent       bool
	}{
		{state: "cancelled", failed: true},
		{state: "funds_refunded", failed: true},
		{state: "bounced_back", failed: true},
		{state: "CHARGED_BACK", failed: true},
		{state: "incoming_payment_waiting", processing: true},
		{state: "incoming_payment_initiated", processing: true},
		{state: "processing", processing: true},
		{state: "funds_converted", processing: true},
		{state: "outgoing_payment_sent", sent: true},
		{state: " OUTGOING_PAYMENT_SENT", sent: true},
		{state: "waiting_recipient_input_to_proceed"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := IsFailedTransferState(tt.state); got != tt.failed {
				t.Fatalf("IsFailedTransferState(%q) = %t", tt.state, got)
			}
			if got := IsProcessingTransferState(tt.state); got != tt.processing {
				t.Fatalf("IsProcessingTransferState(%q) = %t", tt.state, got)
			}
			if got := IsSentTransferState(tt.state); got != tt.sent {
				t.Fatalf("IsSentTransferState(%q) = %t", tt.state, got)
			}
		})
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{amount: "500", want: 50000},
		{amount: "120.5", want: 12050},
		{amount: "498.10", want: 49810},
		{amount: "0.005", want: 1},
		{amount: "-0.005", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			if got := ToMinorUnits(decimal.RequireFromString(tt.amount)); got != tt.want {
				t.Fatalf("ToMinorUnits(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestParseProviderTime(t *testing.T) {
	for _, value := range []string{"2024-03-04T10:15:00Z", "2024-03-04T10:15:00", "2024-03-04 10:15:00"} {
		got, err := ParseProviderTime(value)
		if err != nil {
			t.Fatalf("ParseProviderTime(%q) returned error: %v", value, err)
		}
		if got.Hour() != 10 || got.Minute() != 15 || got.Location() != time.UTC {
			t.Fatalf("ParseProviderTime(%q) = %s", value, got)
		}
	}
}
