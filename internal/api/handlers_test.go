package api

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/app"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

const (
	testJWTSecret = "operator-secret"
	webhookBody   = `{"event_type":"transfers#state-change","data":{"resource":{"id":111,"profile_id":16000001},"current_state":"outgoing_payment_sent"}}`
)

type intakeStub struct {
	result app.AcceptResult
	err    error
	bodies [][]byte
}

func (s *intakeStub) Accept(_ context.Context, body []byte) (app.AcceptResult, error) {
	s.bodies = append(s.bodies, body)
	return s.result, s.err
}

type operatorStub struct {
	dead      []domain.WebhookDelivery
	listErr   error
	replayErr error
	limits    []int
	replayed  []uuid.UUID
	operators []string
}

func (s *operatorStub) ListDead(_ context.Context, limit int) ([]domain.WebhookDelivery, error) {
	s.limits = append(s.limits, limit)
	return s.dead, s.listErr
}

func (s *operatorStub) Replay(_ context.Context, deliveryID uuid.UUID, operator string) (*domain.WebhookDelivery, error) {
	s.replayed = append(s.replayed, deliveryID)
	s.operators = append(s.operators, operator)
	if s.replayErr != nil {
		return nil, s.replayErr
	}
	return &domain.WebhookDelivery{ID: deliveryID, Status: domain.DeliveryStatusPending}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, key *rsa.PrivateKey, body []byte) string {
	t.Helper()
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign body: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func newSignedHandler(t *testing.T, intake WebhookIntake) (*WebhookHandler, *rsa.PrivateKey) {
	t.Helper()
	key, publicPEM := newTestKey(t)
	verifier, err := NewSignatureVerifier(publicPEM)
	if err != nil {
		t.Fatalf("NewSignatureVerifier returned error: %v", err)
	}
	return NewWebhookHandler(intake, verifier, discardLogger()), key
}

func postWebhook(handler http.Handler, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/wise", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_ValidSignatureQueuesDelivery(t *testing.T) {
	deliveryID := uuid.New()
	intake := &intakeStub{result: app.AcceptResult{Delivery: &domain.WebhookDelivery{ID: deliveryID}}}
	handler, key := newSignedHandler(t, intake)

	body := []byte(webhookBody)
	rec := postWebhook(handler, body, map[string]string{SignatureHeader: sign(t, key, body)})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(intake.bodies) != 1 || !bytes.Equal(intake.bodies[0], body) {
		t.Fatalf("expected the raw body to reach intake once, got %d calls", len(intake.bodies))
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "queued" || resp["delivery_id"] != deliveryID.String() {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestWebhookHandler_RejectsInvalidSignature(t *testing.T) {
	intake := &intakeStub{}
	handler, key := newSignedHandler(t, intake)

	signature := sign(t, key, []byte(webhookBody))
	tampered := []byte(strings.Replace(webhookBody, "111", "112", 1))
	rec := postWebhook(handler, tampered, map[string]string{SignatureHeader: signature})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(intake.bodies) != 0 {
		t.Fatal("expected intake not to be called")
	}
}

func TestWebhookHandler_RejectsMissingSignature(t *testing.T) {
	intake := &intakeStub{}
	handler, _ := newSignedHandler(t, intake)

	rec := postWebhook(handler, []byte(webhookBody), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhookHandler_TestNotificationIsNotRecorded(t *testing.T) {
	intake := &intakeStub{}
	handler, key := newSignedHandler(t, intake)

	body := []byte(`{}`)
	rec := postWebhook(handler, body, map[string]string{
		SignatureHeader:        sign(t, key, body),
		testNotificationHeader: "true",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(intake.bodies) != 0 {
		t.Fatal("expected test notification to skip intake")
	}
}

func TestWebhookHandler_SkipsVerificationWithoutKey(t *testing.T) {
	intake := &intakeStub{result: app.AcceptResult{Delivery: &domain.WebhookDelivery{ID: uuid.New()}}}
	handler := NewWebhookHandler(intake, nil, discardLogger())

	rec := postWebhook(handler, []byte(webhookBody), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(intake.bodies) != 1 {
		t.Fatalf("expected intake to be called once, got %d", len(intake.bodies))
	}
}

func TestWebhookHandler_IntakeOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		result     app.AcceptResult
		err        error
		wantStatus int
		wantBody   string
	}{
		{name: "ignored", result: app.AcceptResult{Ignored: true}, wantStatus: http.StatusOK, wantBody: `"ignored"`},
		{name: "deferred", result: app.AcceptResult{Deferred: true, Delivery: &domain.WebhookDelivery{ID: uuid.New()}}, wantStatus: http.StatusAccepted, wantBody: `"deferred"`},
		{name: "malformed", err: app.ErrMalformedPayload, wantStatus: http.StatusBadRequest},
		{name: "store failure", err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewWebhookHandler(&intakeStub{result: tt.result, err: tt.err}, nil, discardLogger())
			rec := postWebhook(handler, []byte(webhookBody), nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("expected body to contain %s, got %s", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestWebhookHandler_RejectsOversizedBody(t *testing.T) {
	intake := &intakeStub{}
	handler := NewWebhookHandler(intake, nil, discardLogger())

	rec := postWebhook(handler, bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(intake.bodies) != 0 {
		t.Fatal("expected intake not to be called")
	}
}

func TestNewSignatureVerifier_AcceptsPKCS1(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})

	verifier, err := NewSignatureVerifier(string(publicPEM))
	if err != nil {
		t.Fatalf("NewSignatureVerifier returned error: %v", err)
	}
	body := []byte(webhookBody)
	if err := verifier.Verify(sign(t, key, body), body); err != nil {
		t.Fatalf("expected signature to verify, got %v", err)
	}
	if err := verifier.Verify("not base64!", body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewSignatureVerifier_RejectsGarbage(t *testing.T) {
	if _, err := NewSignatureVerifier("not a key"); err == nil {
		t.Fatal("expected error for non-PEM key")
	}
}

func operatorToken(t *testing.T, method jwt.SigningMethod, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(operators *operatorStub) http.Handler {
	webhooks := NewWebhookHandler(&intakeStub{}, nil, discardLogger())
	return NewRouter(webhooks, NewOperatorHandler(operators, discardLogger()), testJWTSecret)
}

func callOperator(router http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{"sub": "ops@example.com", "exp": time.Now().Add(time.Hour).Unix()}
}

func TestOperatorAPI_RequiresValidToken(t *testing.T) {
	router := newTestRouter(&operatorStub{})

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "wrong secret", token: operatorToken(t, jwt.SigningMethodHS256, "other-secret", validClaims())},
		{name: "wrong algorithm", token: operatorToken(t, jwt.SigningMethodHS512, testJWTSecret, validClaims())},
		{name: "no subject", token: operatorToken(t, jwt.SigningMethodHS256, testJWTSecret, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{name: "expired", token: operatorToken(t, jwt.SigningMethodHS256, testJWTSecret, jwt.MapClaims{"sub": "ops", "exp": time.Now().Add(-time.Hour).Unix()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := callOperator(router, http.MethodGet, "/internal/deliveries/dead", tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestOperatorAPI_ListDead(t *testing.T) {
	operators := &operatorStub{dead: []domain.WebhookDelivery{{ID: uuid.New(), Status: domain.DeliveryStatusDead, Attempts: 5}}}
	router := newTestRouter(operators)
	token := operatorToken(t, jwt.SigningMethodHS256, testJWTSecret, validClaims())

	rec := callOperator(router, http.MethodGet, "/internal/deliveries/dead?limit=20", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(operators.limits) != 1 || operators.limits[0] != 20 {
		t.Fatalf("expected limit 20 to be passed through, got %v", operators.limits)
	}

	var resp struct {
		Deliveries []domain.WebhookDelivery `json:"deliveries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Deliveries) != 1 || resp.Deliveries[0].Attempts != 5 {
		t.Fatalf("unexpected deliveries %+v", resp.Deliveries)
	}

	rec = callOperator(router, http.MethodGet, "/internal/deliveries/dead?limit=abc", token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestOperatorAPI_Replay(t *testing.T) {
	operators := &operatorStub{}
	router := newTestRouter(operators)
	token := operatorToken(t, jwt.SigningMethodHS256, testJWTSecret, validClaims())
	deliveryID := uuid.New()

	rec := callOperator(router, http.MethodPost, "/internal/deliveries/"+deliveryID.String()+"/replay", token)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(operators.replayed) != 1 || operators.replayed[0] != deliveryID {
		t.Fatalf("expected replay of %s, got %v", deliveryID, operators.replayed)
	}
	if operators.operators[0] != "ops@example.com" {
		t.Fatalf("expected operator from token subject, got %q", operators.operators[0])
	}
}

func TestOperatorAPI_ReplayErrors(t *testing.T) {
	token := operatorToken(t, jwt.SigningMethodHS256, testJWTSecret, validClaims())

	rec := callOperator(newTestRouter(&operatorStub{}), http.MethodPost, "/internal/deliveries/not-a-uuid/replay", token)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}

	router := newTestRouter(&operatorStub{replayErr: store.ErrDeliveryNotFound})
	rec = callOperator(router, http.MethodPost, "/internal/deliveries/"+uuid.NewString()+"/replay", token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown delivery, got %d", rec.Code)
	}
}

func TestOperatorAPI_UnconfiguredSecret(t *testing.T) {
	webhooks := NewWebhookHandler(&intakeStub{}, nil, discardLogger())
	router := NewRouter(webhooks, NewOperatorHandler(&operatorStub{}, discardLogger()), "")

	rec := callOperator(router, http.MethodGet, "/internal/deliveries/dead", operatorToken(t, jwt.SigningMethodHS256, "unused", validClaims()))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
