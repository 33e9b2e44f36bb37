/**
 * @description
 * HTTP handlers for the payout-webhook-service: the Wise webhook endpoint and the
 * operator endpoints over dead-lettered deliveries.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/app"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

const (
	maxWebhookBodyBytes    = 1 << 20
	testNotificationHeader = "X-Test-Notification"
)

// WebhookIntake records and queues accepted webhooks.
type WebhookIntake interface {
	Accept(ctx context.Context, body []byte) (app.AcceptResult, error)
}

// DeliveryOperator lists and replays dead deliveries.
type DeliveryOperator interface {
	ListDead(ctx context.Context, limit int) ([]domain.WebhookDelivery, error)
	Replay(ctx context.Context, deliveryID uuid.UUID, operator string) (*domain.WebhookDelivery, error)
}

// WebhookHandler serves POST /webhooks/wise.
type WebhookHandler struct {
	intake   WebhookIntake
	verifier *SignatureVerifier
	logger   *slog.Logger
}

// NewWebhookHandler creates the webhook handler. A nil verifier disables signature checks.
func NewWebhookHandler(intake WebhookIntake, verifier *SignatureVerifier, logger *slog.Logger) *WebhookHandler {
	if verifier == nil {
		logger.Warn("webhook signature verification disabled: no provider public key configured")
	}
	return &WebhookHandler{intake: intake, verifier: verifier, logger: logger}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
			h.logger.Warn("rejected wise webhook with invalid signature", "remote_addr", r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	if strings.EqualFold(strings.TrimSpace(r.Header.Get(testNotificationHeader)), "true") {
		h.logger.Info("received wise test notification")
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result, err := h.intake.Accept(r.Context(), body)
	switch {
	case errors.Is(err, app.ErrMalformedPayload):
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("failed to accept wise webhook", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	switch {
	case result.Ignored:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case result.Deferred:
		respondWithJSON(w, http.StatusAccepted, map[string]string{
			"status":      "deferred",
			"delivery_id": result.Delivery.ID.String(),
		})
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":      "queued",
			"delivery_id": result.Delivery.ID.String(),
		})
	}
}

// OperatorHandler serves the /internal/deliveries endpoints.
type OperatorHandler struct {
	deliveries DeliveryOperator
	logger     *slog.Logger
}

func NewOperatorHandler(deliveries DeliveryOperator, logger *slog.Logger) *OperatorHandler {
	return &OperatorHandler{deliveries: deliveries, logger: logger}
}

func (h *OperatorHandler) handleListDead(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	deliveries, err := h.deliveries.ListDead(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list dead deliveries", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if deliveries == nil {
		deliveries = []domain.WebhookDelivery{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
}

func (h *OperatorHandler) handleReplay(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid delivery ID", http.StatusBadRequest)
		return
	}

	operator, _ := OperatorFromContext(r.Context())
	delivery, err := h.deliveries.Replay(r.Context(), deliveryID, operator)
	if errors.Is(err, store.ErrDeliveryNotFound) {
		http.Error(w, "Dead delivery not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to replay delivery", "delivery_id", deliveryID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusAccepted, delivery)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
