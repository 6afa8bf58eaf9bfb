package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"social_client/internal/config"
	"social_client/internal/domain"
	"social_client/internal/normalizer"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

// EventRouter - единая точка входа событий push-канала: классификация,
// привязка к отслеживаемой беседе и применение к состоянию.
type EventRouter interface {
	// Handle разбирает и применяет сырой кадр push-канала
	Handle(frame []byte)
	// Dispatch применяет уже классифицированное событие
	Dispatch(ev domain.Event)
	// OnConnect - push-канал (пере)подключился
	OnConnect()
}

type eventRouter struct {
	inbox   *inboxService
	norm    *normalizer.Normalizer
	sched   Scheduler
	metrics *Metrics
	journal JournalService
	cfg     config.SyncConfig
	me      string
	log     logger.Logger

	mu           sync.Mutex
	pending      []domain.Event // события для бесед, которых еще нет локально
	refreshing   bool
	refreshAgain bool
}

func newEventRouter(inbox *inboxService, norm *normalizer.Normalizer, sched Scheduler, metrics *Metrics,
	journal JournalService, cfg config.SyncConfig, me string, log logger.Logger) *eventRouter {
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 64
	}
	return &eventRouter{
		inbox:   inbox,
		norm:    norm,
		sched:   sched,
		metrics: metrics,
		journal: journal,
		cfg:     cfg,
		me:      me,
		log:     log,
	}
}

func (r *eventRouter) Handle(frame []byte) {
	name, data, err := normalizer.Envelope(frame)
	if err != nil {
		r.log.Warn("Dropped malformed push frame", "error", err)
		r.journal.Note(domain.JournalMalformedPayload, "", "", err.Error())
		return
	}

	ev, ok := r.classify(name, data)
	if !ok {
		return
	}
	r.Dispatch(ev)
}

// classify сводит имя события и payload к одному из видов domain.EventKind
func (r *eventRouter) classify(name string, data []byte) (domain.Event, bool) {
	ev := domain.Event{Name: name}
	switch name {
	case domain.InboundReceiveMessage:
		ev.Kind = domain.EventNewMessage
		msg, err := r.norm.Message(data, normalizer.OriginPush, normalizer.Hint{Resolve: r.inbox.resolvePair})
		if err != nil {
			r.metrics.Events.WithLabelValues(ev.Kind.String()).Inc()
			r.reject(name, err)
			return ev, false
		}
		ev.Message = msg
	case domain.InboundMessageDelivered:
		ev.Kind = domain.EventDeliveryAck
		ev.Ack = normalizer.Ack(data)
	case domain.InboundMessageRead, domain.InboundMessageSeen:
		ev.Kind = domain.EventReadAck
		ev.Ack = normalizer.Ack(data)
	case domain.InboundMessagesRead:
		ev.Kind = domain.EventConversationRead
		ev.Ack = normalizer.Ack(data)
	case domain.InboundTyping:
		ev.Kind = domain.EventTypingStart
		ev.Ack = normalizer.Ack(data)
	case domain.InboundStopTyping:
		ev.Kind = domain.EventTypingStop
		ev.Ack = normalizer.Ack(data)
	case domain.InboundConversationDeleted:
		ev.Kind = domain.EventConversationDeleted
		ev.Ack = domain.Ack{ConversationID: normalizer.DeletedConversation(data)}
	default:
		r.metrics.Events.WithLabelValues(domain.EventUnknown.String()).Inc()
		r.log.Debug("Ignoring unknown push event", "event", name)
		return ev, false
	}
	r.metrics.Events.WithLabelValues(ev.Kind.String()).Inc()
	return ev, true
}

func (r *eventRouter) reject(event string, err error) {
	if errors.Is(err, apperrors.ErrOrphanedRecord) {
		r.metrics.OrphanedRecords.Inc()
		r.log.Warn("Dropped orphaned message", "event", event)
		r.journal.Note(domain.JournalOrphanedRecord, "", "", event)
		return
	}
	r.log.Warn("Dropped malformed push payload", "event", event, "error", err)
	r.journal.Note(domain.JournalMalformedPayload, "", "", err.Error())
}

func (r *eventRouter) Dispatch(ev domain.Event) {
	r.route(ev, true)
}

func (r *eventRouter) route(ev domain.Event, buffer bool) {
	ref := ev.ConversationRef()
	known := ref != "" && r.inbox.knows(ref)

	switch ev.Kind {
	case domain.EventNewMessage:
		if r.isTestTraffic(ev.Message) {
			r.log.Debug("Dropped test traffic", "conversation_id", ref)
			return
		}
		if !known {
			// беседа могла появиться на сервере: перечитываем список
			if buffer {
				r.buffer(ev)
				r.requestRefresh()
			}
			return
		}
		r.applyNewMessage(ev)

	case domain.EventDeliveryAck:
		if ref != "" && !known {
			r.maybeBuffer(ev, buffer)
			return
		}
		r.inbox.observeStatus(ref, domain.StatusDelivered, ackRefs(ev.Ack)...)

	case domain.EventReadAck, domain.EventConversationRead:
		if ev.Ack.UserID != "" && ev.Ack.UserID == r.me {
			// эхо моего собственного mark_read
			return
		}
		if ref != "" && !known {
			r.maybeBuffer(ev, buffer)
			return
		}
		// без ссылок на сообщения - прочитана вся беседа
		refs := ackRefs(ev.Ack)
		if len(refs) == 0 && ref == "" {
			return
		}
		r.inbox.markOutgoingRead(ref, refs)

	case domain.EventTypingStart, domain.EventTypingStop:
		// typing для неизвестной беседы не буферизуется: к моменту
		// обновления списка индикатор все равно бы истек
		if !known {
			return
		}
		r.inbox.setTyping(ref, ev.Ack.UserID, ev.Kind == domain.EventTypingStart)

	case domain.EventConversationDeleted:
		if ref == "" {
			return
		}
		r.dropBuffered(ref)
		if r.inbox.removeConversation(ref) {
			r.log.Info("Conversation deleted", "conversation_id", ref)
		}
	}
}

func (r *eventRouter) applyNewMessage(ev domain.Event) {
	applied, created, err := r.inbox.applyMessage(ev.Message)
	if err != nil {
		r.log.Debug("Conversation disappeared before message was applied", "error", err)
		return
	}
	if applied.Outgoing(r.me) || !created {
		return
	}

	r.inbox.emit(context.Background(), domain.OutboundConfirmDelivery, map[string]string{
		"messageId":      applied.ID,
		"conversationId": applied.ConversationID,
		"senderId":       applied.SenderID,
	})
	if r.inbox.ActiveID() == applied.ConversationID {
		r.inbox.markMessagesRead(applied.ConversationID, []string{applied.ID})
	}
}

func (r *eventRouter) isTestTraffic(msg *domain.Message) bool {
	return r.cfg.TestMarker != "" && msg != nil && strings.Contains(msg.Text, r.cfg.TestMarker)
}

func ackRefs(ack domain.Ack) []string {
	var refs []string
	for _, id := range append([]string{ack.MessageID, ack.ClientID}, ack.MessageIDs...) {
		if id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

func (r *eventRouter) maybeBuffer(ev domain.Event, buffer bool) {
	if buffer {
		r.buffer(ev)
		return
	}
	r.stale(ev)
}

func (r *eventRouter) buffer(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.cfg.EventBufferSize {
		dropped := r.pending[0]
		r.pending = r.pending[1:]
		r.log.Warn("Event buffer full, dropping oldest", "event", dropped.Name, "conversation_id", dropped.ConversationRef())
		r.journal.Note(domain.JournalEventDropped, dropped.ConversationRef(), "", dropped.Name)
	}
	r.pending = append(r.pending, ev)
}

func (r *eventRouter) dropBuffered(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.pending[:0]
	for _, ev := range r.pending {
		if ev.ConversationRef() != ref {
			kept = append(kept, ev)
		}
	}
	r.pending = kept
}

func (r *eventRouter) stale(ev domain.Event) {
	r.log.Warn("Dropped event for unknown conversation", "event", ev.Name, "conversation_id", ev.ConversationRef())
	r.journal.Note(domain.JournalStaleReference, ev.ConversationRef(), "", ev.Name)
}

// requestRefresh запускает фоновое обновление списка бесед.
// Пока обновление идет, новые запросы схлопываются в одно повторное.
func (r *eventRouter) requestRefresh() {
	r.mu.Lock()
	if r.refreshing {
		r.refreshAgain = true
		r.mu.Unlock()
		return
	}
	r.refreshing = true
	r.mu.Unlock()

	r.sched.Go(r.refreshLoop)
}

func (r *eventRouter) refreshLoop() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		err := r.inbox.Refresh(ctx)
		cancel()
		if err != nil {
			r.log.Warn("Background conversation refresh failed", "error", err)
		}
		r.replay(err == nil)

		r.mu.Lock()
		if !r.refreshAgain {
			r.refreshing = false
			r.mu.Unlock()
			return
		}
		r.refreshAgain = false
		r.mu.Unlock()
	}
}

// replay применяет буферизованные события к появившимся беседам.
// После успешного обновления события для все еще неизвестных бесед отбрасываются.
func (r *eventRouter) replay(dropUnknown bool) {
	r.mu.Lock()
	events := r.pending
	r.pending = nil
	r.mu.Unlock()

	var keep []domain.Event
	for _, ev := range events {
		switch {
		case r.inbox.knows(ev.ConversationRef()):
			r.route(ev, false)
		case dropUnknown:
			r.stale(ev)
		default:
			keep = append(keep, ev)
		}
	}

	if len(keep) > 0 {
		r.mu.Lock()
		r.pending = append(keep, r.pending...)
		if len(r.pending) > r.cfg.EventBufferSize {
			r.pending = r.pending[len(r.pending)-r.cfg.EventBufferSize:]
		}
		r.mu.Unlock()
	}
}

// OnConnect: заново входим в комнату открытой беседы и догоняем пропущенное
func (r *eventRouter) OnConnect() {
	active := r.inbox.ActiveID()
	if active != "" {
		r.inbox.emit(context.Background(), domain.OutboundJoinConversation, map[string]string{"conversationId": active})
	}
	r.sched.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		defer cancel()
		if err := r.inbox.Refresh(ctx); err != nil {
			r.log.Warn("Catch-up refresh failed", "error", err)
			return
		}
		r.replay(true)
		// после обновления каноническим мог стать id другой схемы
		if active = r.inbox.ActiveID(); active != "" {
			if _, err := r.inbox.loadPage(ctx, active, 1); err != nil {
				r.log.Warn("Catch-up message fetch failed", "error", err, "conversation_id", active)
			}
		}
	})
}
