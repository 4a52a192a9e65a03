// Package clients содержит HTTP-клиентов внешних коллабораторов.
// Все клиенты работают с ограниченным таймаутом и никогда не вызываются
// изнутри транзакции леджера.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// EngagementClient ходит в источник измеренных минут вовлечённости.
type EngagementClient struct {
	baseURL string
	client  *http.Client
}

// NewEngagementClient создаёт клиента с ограниченным таймаутом.
func NewEngagementClient(baseURL string, timeout time.Duration) *EngagementClient {
	return &EngagementClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Minutes возвращает измеренные минуты за окно [startMs, endMs)
// в миллисекундах с эпохи. Всегда ≥ 0.
func (c *EngagementClient) Minutes(ctx context.Context, userID string, startMs, endMs int64) (int64, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	query.Set("window_start", strconv.FormatInt(startMs, 10))
	query.Set("window_end", strconv.FormatInt(endMs, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/minutes?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("источник минут недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("источник минут ответил %d", resp.StatusCode)
	}

	var body struct {
		Minutes int64 `json:"minutes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	if body.Minutes < 0 {
		return 0, fmt.Errorf("источник минут вернул отрицательное значение %d", body.Minutes)
	}
	return body.Minutes, nil
}
