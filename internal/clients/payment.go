// Package clients — payment.go инициирует платёж через внешний шлюз.
// Движок потребляет только булев исход и ссылку; повторов не делает.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"focusbank.ru/gating-engine/internal/features/invest"
)

// PaymentClient — клиент платёжного шлюза.
type PaymentClient struct {
	baseURL string
	client  *http.Client
}

// NewPaymentClient создаёт клиента с ограниченным таймаутом.
func NewPaymentClient(baseURL string, timeout time.Duration) *PaymentClient {
	return &PaymentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Charge инициирует списание у пользователя на amountTokens токенов.
func (c *PaymentClient) Charge(ctx context.Context, userID string, amountTokens int64, destination string) (*invest.ChargeResult, error) {
	payload, err := json.Marshal(map[string]any{
		"user_id":     userID,
		"amount":      amountTokens,
		"destination": destination,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования платежа: %w", err)
	}

	url := c.baseURL + "/api/charges"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("платёжный шлюз недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("платёжный шлюз ответил %d", resp.StatusCode)
	}

	var result invest.ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа шлюза: %w", err)
	}
	return &result, nil
}
