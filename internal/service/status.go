package service

import (
	"sync"

	"social_client/internal/domain"
	apperrors "social_client/pkg/errors"
)

// StatusTracker - машина состояний доставки, ключ - clientId.
// Статус не откатывается назад; переход для неизвестного clientId - no-op.
type StatusTracker struct {
	mu      sync.Mutex
	entries map[string]*trackedStatus
}

type trackedStatus struct {
	status  domain.DeliveryStatus
	attempt int
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{entries: make(map[string]*trackedStatus)}
}

// Track регистрирует сообщение. Для уже известного clientId работает как Observe.
func (t *StatusTracker) Track(clientID string, status domain.DeliveryStatus, attempt int) domain.DeliveryStatus {
	if clientID == "" || !status.Valid() {
		return status
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		t.entries[clientID] = &trackedStatus{status: status, attempt: attempt}
		return status
	}
	if attempt > e.attempt {
		e.attempt = attempt
	}
	observe(e, status)
	return e.status
}

// Transition - строгий переход по таблице domain.CanTransition
func (t *StatusTracker) Transition(clientID string, to domain.DeliveryStatus) (domain.DeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return "", false
	}
	if !domain.CanTransition(e.status, to) {
		return e.status, false
	}
	e.status = to
	return to, true
}

// Observe применяет подтверждение со стороны сервера или получателя.
// Подтверждение доказывает, что сообщение сохранено, поэтому снимает failed.
func (t *StatusTracker) Observe(clientID string, to domain.DeliveryStatus) (domain.DeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return "", false
	}
	changed := observe(e, to)
	return e.status, changed
}

func observe(e *trackedStatus, to domain.DeliveryStatus) bool {
	if !to.Valid() || to == domain.StatusSending || to == domain.StatusFailed {
		if to == domain.StatusFailed && e.status == domain.StatusSending {
			e.status = to
			return true
		}
		return false
	}
	if e.status == domain.StatusFailed || to.Rank() > e.status.Rank() {
		e.status = to
		return true
	}
	return false
}

// Retry переводит failed обратно в sending с новой попыткой
func (t *StatusTracker) Retry(clientID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[clientID]
	if !ok {
		return 0, apperrors.ErrMessageNotFound
	}
	if e.status != domain.StatusFailed {
		return e.attempt, apperrors.ErrNotRetryable
	}
	e.status = domain.StatusSending
	e.attempt++
	return e.attempt, nil
}

// Attempt - номер текущей попытки
func (t *StatusTracker) Attempt(clientID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clientID]; ok {
		return e.attempt
	}
	return 0
}

func (t *StatusTracker) Status(clientID string) (domain.DeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[clientID]; ok {
		return e.status, true
	}
	return "", false
}

func (t *StatusTracker) Forget(clientIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range clientIDs {
		delete(t.entries, id)
	}
}
