/**
 * @description
 * This package provides a client for the Wise platform API. Only the read endpoints
 * needed to reconcile a transfer are covered: the transfer itself and its delivery
 * estimate. Every call is authenticated with the API key of the tenant that created
 * the transfer, so the key is passed per request rather than held by the client.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Transfer amounts.
 */
package wiseclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.transferwise.com"

// Client is a client for the Wise API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Wise API client. An empty baseURL targets production.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Transfer is the subset of the Wise transfer resource used for reconciliation.
type Transfer struct {
	ID             int64           `json:"id"`
	Status         string          `json:"status"`
	SourceCurrency string          `json:"sourceCurrency"`
	SourceValue    decimal.Decimal `json:"sourceValue"`
	TargetCurrency string          `json:"targetCurrency"`
	TargetValue    decimal.Decimal `json:"targetValue"`
}

// DeliveryEstimate is the response of the delivery estimate endpoint.
type DeliveryEstimate struct {
	EstimatedDeliveryDate string `json:"estimatedDeliveryDate"`
}

// APIError represents a non-2xx response from the Wise API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wise api error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("wise api error (status %d)", e.StatusCode)
}

type errorBody struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// GetTransfer fetches a transfer by id.
func (c *Client) GetTransfer(ctx context.Context, apiKey, transferID string) (*Transfer, error) {
	var transfer Transfer
	if err := c.get(ctx, "get_transfer", apiKey, "/v1/transfers/"+url.PathEscape(transferID), &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// GetDeliveryEstimate fetches the estimated delivery date of a transfer.
func (c *Client) GetDeliveryEstimate(ctx context.Context, apiKey, transferID string) (*DeliveryEstimate, error) {
	var estimate DeliveryEstimate
	if err := c.get(ctx, "get_delivery_estimate", apiKey, "/v1/delivery-estimates/"+url.PathEscape(transferID), &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}

func (c *Client) get(ctx context.Context, op, apiKey, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorBody
		if err := json.Unmarshal(bodyBytes, &body); err == nil {
			switch {
			case len(body.Errors) > 0:
				apiErr.Code = body.Errors[0].Code
				apiErr.Message = body.Errors[0].Message
			case body.Error != "":
				apiErr.Code = body.Error
				apiErr.Message = body.ErrorDescription
			}
		}
		log.Printf("level=warn component=wise_client op=%s status=%d code=%q message=%q", op, resp.StatusCode, apiErr.Code, apiErr.Message)
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
