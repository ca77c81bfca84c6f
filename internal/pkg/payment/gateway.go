package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Orik-dev/kcalbot/internal/pkg/env"
)

const (
	defaultGatewayURL = "https://api.yookassa.ru/v3"
	gatewayTimeout    = 30 * time.Second
)

// Gateway creates payments at the external payment provider. Checkout
// redirects handle first purchases; saved-method charges drive autopay.
type Gateway interface {
	CreatePayment(ctx context.Context, in CreatePaymentInput) (*Checkout, error)
	ChargeSaved(ctx context.Context, methodID string, amount int, description string) (*ChargeResult, error)
}

type gatewayClient struct {
	httpClient *http.Client
	baseURL    string
	shopID     string
	secretKey  string
	returnURL  string
}

// NewGateway builds the provider client from environment configuration.
func NewGateway() Gateway {
	return &gatewayClient{
		httpClient: &http.Client{Timeout: gatewayTimeout},
		baseURL:    env.GetEnv("PAYMENT_API_URL", defaultGatewayURL),
		shopID:     env.GetEnv("PAYMENT_SHOP_ID", ""),
		secretKey:  env.GetEnv("PAYMENT_SECRET_KEY", ""),
		returnURL:  env.GetEnv("PAYMENT_RETURN_URL", "https://t.me"),
	}
}

func (g *gatewayClient) CreatePayment(ctx context.Context, in CreatePaymentInput) (*Checkout, error) {
	payload := map[string]interface{}{
		"amount": map[string]string{
			"value":    strconv.Itoa(in.Amount) + ".00",
			"currency": "RUB",
		},
		"capture":     true,
		"description": in.Description,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": g.returnURL,
		},
		"save_payment_method": in.SaveMethod,
	}
	if in.Email != "" {
		payload["receipt"] = map[string]interface{}{
			"customer": map[string]string{"email": in.Email},
			"items": []map[string]interface{}{{
				"description": in.Description,
				"quantity":    "1",
				"amount": map[string]string{
					"value":    strconv.Itoa(in.Amount) + ".00",
					"currency": "RUB",
				},
				"vat_code": 1,
			}},
		}
	}

	var resp struct {
		ID           string `json:"id"`
		Confirmation struct {
			ConfirmationURL string `json:"confirmation_url"`
		} `json:"confirmation"`
	}
	if err := g.post(ctx, "/payments", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.Confirmation.ConfirmationURL == "" {
		return nil, fmt.Errorf("gateway returned incomplete checkout")
	}

	return &Checkout{ExternalID: resp.ID, ConfirmationURL: resp.Confirmation.ConfirmationURL}, nil
}

func (g *gatewayClient) ChargeSaved(ctx context.Context, methodID string, amount int, description string) (*ChargeResult, error) {
	payload := map[string]interface{}{
		"amount": map[string]string{
			"value":    strconv.Itoa(amount) + ".00",
			"currency": "RUB",
		},
		"capture":           true,
		"description":       description,
		"payment_method_id": methodID,
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := g.post(ctx, "/payments", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("gateway returned no payment id")
	}
	return &ChargeResult{ExternalID: resp.ID, Status: resp.Status}, nil
}

func (g *gatewayClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.shopID, g.secretKey)
	req.Header.Set("Content-Type", "application/json")
	// The gateway deduplicates retried creates on this key.
	req.Header.Set("Idempotence-Key", uuid.New().String())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var gwErr struct {
			Description string `json:"description"`
		}
		if jerr := json.Unmarshal(respBody, &gwErr); jerr == nil && gwErr.Description != "" {
			return fmt.Errorf("gateway error (status %d): %s", resp.StatusCode, gwErr.Description)
		}
		return fmt.Errorf("gateway error: unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
