package service

import (
	"time"

	"social_client/internal/config"
)

// RetryPolicy - ограниченный экспоненциальный backoff.
// Чистая функция от номера попытки, таймеры ставит Scheduler.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay возвращает задержку перед попыткой attempt (1 - первая повторная).
// ok=false, если попытки исчерпаны.
func (p RetryPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || (p.MaxAttempts > 0 && attempt > p.MaxAttempts) {
		return 0, false
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d, true
}

func NewRetryPolicy(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
}

// Backoff - задержка без ограничения числа попыток (переподключение push-канала)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	unlimited := p
	unlimited.MaxAttempts = 0
	d, _ := unlimited.Delay(attempt)
	return d
}
