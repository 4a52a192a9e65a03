// Package clients — enforcement.go пушит enforced-набор во внешний
// механизм блокировки запусков. Движок только отдаёт намеренное состояние;
// источником истины о фактической блокировке остаётся коллаборатор.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EnforcementClient — one-way пуш списка заблокированных пакетов.
type EnforcementClient struct {
	baseURL string
	client  *http.Client
}

// NewEnforcementClient создаёт клиента с ограниченным таймаутом.
func NewEnforcementClient(baseURL string, timeout time.Duration) *EnforcementClient {
	return &EnforcementClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetLockedPackages передаёт коллаборатору полный enforced-набор
// пользователя. Вызывается только ПОСЛЕ коммита мутации леджера.
func (c *EnforcementClient) SetLockedPackages(ctx context.Context, userID string, packages []string) error {
	if packages == nil {
		packages = []string{}
	}
	payload, err := json.Marshal(map[string]any{
		"user_id":  userID,
		"packages": packages,
	})
	if err != nil {
		return fmt.Errorf("ошибка кодирования набора: %w", err)
	}

	url := c.baseURL + "/api/locked-packages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("enforcement недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("enforcement ответил %d", resp.StatusCode)
	}
	return nil
}
