package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"social_client/internal/config"
	"social_client/internal/domain"
	"social_client/internal/normalizer"
	"social_client/internal/repository"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

// SendRequest - send(recipientId, text, media?)
type SendRequest struct {
	RecipientID    string
	ConversationID string
	Text           string
	Media          *domain.Media
}

// SendPipeline - оптимистичная отправка: черновик появляется сразу,
// затем уходит в push-канал и в persistence API. Каждый черновик
// заканчивается в sent/delivered/read или в failed.
type SendPipeline interface {
	Send(ctx context.Context, req *SendRequest) (*domain.Message, error)
	Retry(ctx context.Context, clientID string) (*domain.Message, error)
	Typing(ctx context.Context, conversationID string, active bool) error
}

type sendPipeline struct {
	inbox       *inboxService
	persistence repository.PersistenceAPI
	norm        *normalizer.Normalizer
	sched       Scheduler
	policy      RetryPolicy
	metrics     *Metrics
	journal     JournalService
	cfg         config.SyncConfig
	me          string
	log         logger.Logger

	typingMu sync.Mutex
	typing   map[string]*rate.Limiter
}

func newSendPipeline(inbox *inboxService, persistence repository.PersistenceAPI, norm *normalizer.Normalizer,
	sched Scheduler, policy RetryPolicy, metrics *Metrics, journal JournalService,
	cfg config.SyncConfig, me string, log logger.Logger) *sendPipeline {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.TypingThrottle <= 0 {
		cfg.TypingThrottle = 2 * time.Second
	}
	return &sendPipeline{
		inbox:       inbox,
		persistence: persistence,
		norm:        norm,
		sched:       sched,
		policy:      policy,
		metrics:     metrics,
		journal:     journal,
		cfg:         cfg,
		me:          me,
		log:         log,
		typing:      make(map[string]*rate.Limiter),
	}
}

func (p *sendPipeline) Send(ctx context.Context, req *SendRequest) (*domain.Message, error) {
	if req.RecipientID == "" && req.ConversationID == "" {
		return nil, fmt.Errorf("%w: recipient or conversation required", apperrors.ErrBadRequest)
	}
	if strings.TrimSpace(req.Text) == "" && (req.Media == nil || req.Media.URL == "") {
		return nil, fmt.Errorf("%w: text or media required", apperrors.ErrBadRequest)
	}

	convID, recipientID, err := p.ensureConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	draft, err := p.norm.Draft(normalizer.Draft{
		ConversationID: convID,
		SenderID:       p.me,
		RecipientID:    recipientID,
		Text:           req.Text,
		Media:          req.Media,
	})
	if err != nil {
		return nil, err
	}

	applied, err := p.inbox.insertDraft(draft)
	if err != nil {
		return nil, err
	}

	p.emitDraft(ctx, applied)
	p.sched.Go(func() { p.dispatch(applied) })
	return applied, nil
}

// ensureConversation находит беседу или создает ее на бэкенде.
// Блокирует до появления беседы: черновик без беседы не создается.
func (p *sendPipeline) ensureConversation(ctx context.Context, req *SendRequest) (string, string, error) {
	recipientID := req.RecipientID

	p.inbox.mu.Lock()
	if st, ok := p.inbox.stateLocked(req.ConversationID); ok {
		convID := st.conv.ID
		if recipientID == "" {
			if other, found := st.conv.OtherParticipant(p.me); found {
				recipientID = other.ID
			}
		}
		p.inbox.mu.Unlock()
		return convID, recipientID, nil
	}
	convID, found := p.inbox.conversationWithLocked(recipientID)
	p.inbox.mu.Unlock()
	if found {
		return convID, recipientID, nil
	}
	if recipientID == "" {
		return "", "", apperrors.ErrConversationNotFound
	}

	raw, err := p.persistence.CreateConversation(ctx, recipientID)
	if err != nil {
		p.log.Error("Failed to create conversation", "error", err, "recipient_id", recipientID)
		return "", "", err
	}
	conv, err := p.norm.Conversation(raw)
	if err != nil {
		p.log.Error("Malformed create-conversation response", "error", err, "recipient_id", recipientID)
		return "", "", err
	}
	if len(conv.Participants) == 0 {
		conv.Participants = []domain.UserRef{{ID: p.me}, {ID: recipientID}}
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = p.sched.Now()
	}
	return p.inbox.addConversation(conv), recipientID, nil
}

func (p *sendPipeline) emitDraft(ctx context.Context, msg *domain.Message) {
	payload := map[string]interface{}{
		"conversationId": msg.ConversationID,
		"senderId":       msg.SenderID,
		"recipientId":    msg.RecipientID,
		"text":           msg.Text,
		"clientId":       msg.ClientID,
		"createdAt":      msg.CreatedAt,
	}
	if msg.Media != nil {
		payload["media"] = msg.Media
	}
	p.inbox.emit(ctx, domain.OutboundSendMessage, payload)
}

// dispatch - вызов persistence API для текущей попытки. Выполняется в фоне
// со своим таймаутом: уход из беседы его не отменяет.
func (p *sendPipeline) dispatch(draft *domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()

	req := &repository.SendMessageRequest{
		ConversationID: draft.ConversationID,
		RecipientID:    draft.RecipientID,
		Text:           draft.Text,
		ClientID:       draft.ClientID,
	}
	if draft.Media != nil {
		req.MediaURL = draft.Media.URL
		req.MediaType = string(draft.Media.Kind)
	}

	raw, err := p.persistence.SendMessage(ctx, req)
	if err != nil {
		p.fail(draft, err)
		return
	}
	p.confirm(draft, raw)
}

func (p *sendPipeline) confirm(draft *domain.Message, raw []byte) {
	msg, err := p.norm.Message(raw, normalizer.OriginFetch, normalizer.Hint{ConversationID: draft.ConversationID})
	if err != nil {
		// сообщение сохранено, но ответ не разобран: достаточно для sent
		p.log.Warn("Malformed send response", "error", err, "client_id", draft.ClientID)
		p.journal.Note(domain.JournalMalformedPayload, draft.ConversationID, draft.ClientID, err.Error())
		p.inbox.observeStatus(draft.ConversationID, domain.StatusSent, draft.ClientID)
		return
	}

	// ответ относится именно к этому запросу
	msg.ClientID = draft.ClientID
	msg.SyntheticClientID = false
	if msg.Attempt < draft.Attempt {
		msg.Attempt = draft.Attempt
	}
	if !p.inbox.knows(msg.ConversationID) {
		msg.ConversationID = draft.ConversationID
	}

	if _, _, err := p.inbox.applyMessage(msg); err != nil {
		// беседу удалили, пока шел запрос
		p.log.Debug("Send confirmed for a removed conversation", "client_id", draft.ClientID, "error", err)
		return
	}
	p.log.Debug("Send confirmed", "client_id", draft.ClientID, "id", msg.ID)
}

func (p *sendPipeline) fail(draft *domain.Message, err error) {
	if !p.inbox.failDraft(draft.ClientID, draft.Attempt) {
		// уже подтверждено push-каналом или заменено новой попыткой
		p.log.Debug("Send error ignored, draft no longer pending", "client_id", draft.ClientID, "error", err)
		return
	}
	p.metrics.SendFailures.Inc()
	p.journal.Note(domain.JournalSendFailed, draft.ConversationID, draft.ClientID, err.Error())
	p.log.Warn("Message send failed", "error", err, "client_id", draft.ClientID,
		"attempt", draft.Attempt, "timeout", errors.Is(err, apperrors.ErrTimeout))
}

// Retry повторяет failed-сообщение с тем же clientId после паузы из RetryPolicy
func (p *sendPipeline) Retry(ctx context.Context, clientID string) (*domain.Message, error) {
	msg, err := p.inbox.retryDraft(clientID, p.policy.MaxAttempts)
	if err != nil {
		return nil, err
	}

	delay, _ := p.policy.Delay(msg.Attempt - 1)
	p.log.Info("Retrying message", "client_id", msg.ClientID, "attempt", msg.Attempt, "delay", delay)
	p.sched.After(delay, func() {
		p.emitDraft(context.Background(), msg)
		p.dispatch(msg)
	})
	return msg, nil
}

// Typing отправляет typing не чаще TypingThrottle на беседу; stop_typing - всегда
func (p *sendPipeline) Typing(ctx context.Context, conversationID string, active bool) error {
	p.inbox.mu.Lock()
	st, ok := p.inbox.stateLocked(conversationID)
	var convID string
	if ok {
		convID = st.conv.ID
	}
	p.inbox.mu.Unlock()
	if !ok {
		return apperrors.ErrConversationNotFound
	}

	p.typingMu.Lock()
	limiter, exists := p.typing[convID]
	if active && !exists {
		limiter = rate.NewLimiter(rate.Every(p.cfg.TypingThrottle), 1)
		p.typing[convID] = limiter
	}
	if !active {
		delete(p.typing, convID)
	}
	p.typingMu.Unlock()

	payload := map[string]string{"conversationId": convID, "userId": p.me}
	if !active {
		p.inbox.emit(ctx, domain.OutboundStopTyping, payload)
		return nil
	}
	if !limiter.AllowN(p.sched.Now(), 1) {
		return nil
	}
	p.inbox.emit(ctx, domain.OutboundTyping, payload)
	return nil
}
