package middleware

import (
	"sync"
	"time"
)

// RateLimiter держит скользящее окно запросов на каждого пользователя
// движка. Ключ — строковый идентификатор из пути запроса: spend-операции
// и начисления приходят от коллабораторов от имени пользователя, и лимит
// должен бить по нему, а не по IP шлюза.
type RateLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter создаёт лимитер: не более limit запросов на пользователя
// за window. Фоновая горутина периодически выбрасывает пользователей,
// у которых всё окно уже пустое.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		stopCh: make(chan struct{}),
	}
	go rl.sweep(sweepInterval(window))
	return rl
}

// sweepInterval: чистим примерно раз в пять окон, но не чаще раза в минуту,
// чтобы короткие окна не крутили горутину впустую.
func sweepInterval(window time.Duration) time.Duration {
	interval := 5 * window
	if interval < time.Minute {
		return time.Minute
	}
	return interval
}

// Close останавливает фоновую чистку. Вызывается на shutdown сервера.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Allow регистрирует запрос пользователя и сообщает, укладывается ли он
// в лимит. Отклонённый запрос в окно не записывается.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := pruneOlder(rl.seen[userID], now.Add(-rl.window))

	if len(recent) >= rl.limit {
		rl.seen[userID] = recent
		return false
	}
	rl.seen[userID] = append(recent, now)
	return true
}

// pruneOlder оставляет только отметки после cutoff.
func pruneOlder(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (rl *RateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-rl.window)
			for userID, times := range rl.seen {
				recent := pruneOlder(times, cutoff)
				if len(recent) == 0 {
					delete(rl.seen, userID)
					continue
				}
				rl.seen[userID] = recent
			}
			rl.mu.Unlock()
		}
	}
}
