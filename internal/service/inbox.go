package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"social_client/internal/config"
	"social_client/internal/domain"
	"social_client/internal/normalizer"
	"social_client/internal/repository"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

const backgroundCallTimeout = 15 * time.Second

// InboxService - список бесед пользователя: порядок, дедупликация,
// счетчики непрочитанного, typing и лента открытой беседы.
type InboxService interface {
	Conversations() []*domain.Conversation
	Messages(conversationID string) ([]*domain.Message, error)
	ActiveID() string
	Snapshot() *ViewSnapshot
	// Subscribe возвращает поток снимков состояния; в канале всегда последний снимок
	Subscribe() (<-chan *ViewSnapshot, func())

	Refresh(ctx context.Context) error
	Open(ctx context.Context, conversationID string) error
	Close(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID string) error
	Delete(ctx context.Context, conversationID string) error
	LoadOlder(ctx context.Context, conversationID string) (int, error)
}

// ViewSnapshot - то, что рендерит UI
type ViewSnapshot struct {
	Conversations []*domain.Conversation `json:"conversations"`
	ActiveID      string                 `json:"active_conversation_id,omitempty"`
	Messages      []*domain.Message      `json:"messages"`
}

type conversationState struct {
	conv     *domain.Conversation
	messages []*domain.Message // по возрастанию createdAt
	loaded   bool
	page     int
	hasMore  bool
	typing   map[string]*typingEntry
}

type typingEntry struct {
	ref  domain.UserRef
	gen  int
	stop func() bool
}

type inboxService struct {
	persistence repository.PersistenceAPI
	push        repository.PushChannel
	norm        *normalizer.Normalizer
	matcher     Matcher
	tracker     *StatusTracker
	sched       Scheduler
	metrics     *Metrics
	journal     JournalService
	cfg         config.SyncConfig
	me          string
	log         logger.Logger

	refreshGroup singleflight.Group

	mu          sync.Mutex
	convs       map[string]*conversationState
	aliases     map[string]string // любой id беседы -> канонический
	activeID    string
	subscribers map[int]chan *ViewSnapshot
	nextSubID   int
	unresolved  func(ids []string)
}

func NewInboxService(persistence repository.PersistenceAPI, push repository.PushChannel, norm *normalizer.Normalizer,
	tracker *StatusTracker, sched Scheduler, metrics *Metrics, journal JournalService,
	cfg config.SyncConfig, me string, log logger.Logger) InboxService {
	return newInboxService(persistence, push, norm, tracker, sched, metrics, journal, cfg, me, log)
}

func newInboxService(persistence repository.PersistenceAPI, push repository.PushChannel, norm *normalizer.Normalizer,
	tracker *StatusTracker, sched Scheduler, metrics *Metrics, journal JournalService,
	cfg config.SyncConfig, me string, log logger.Logger) *inboxService {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 30
	}
	return &inboxService{
		persistence: persistence,
		push:        push,
		norm:        norm,
		matcher:     NewMatcher(cfg.MatchWindow),
		tracker:     tracker,
		sched:       sched,
		metrics:     metrics,
		journal:     journal,
		cfg:         cfg,
		me:          me,
		log:         log,
		convs:       make(map[string]*conversationState),
		aliases:     make(map[string]string),
		subscribers: make(map[int]chan *ViewSnapshot),
	}
}

// SetProfileResolver - колбэк для участников, известных только по id
func (s *inboxService) SetProfileResolver(fn func(ids []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unresolved = fn
}

func (s *inboxService) Conversations() []*domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationsLocked()
}

func (s *inboxService) conversationsLocked() []*domain.Conversation {
	out := make([]*domain.Conversation, 0, len(s.convs))
	for _, st := range s.convs {
		out = append(out, st.conv.Clone())
	}
	sortConversations(out)
	return out
}

func (s *inboxService) Messages(conversationID string) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stateLocked(conversationID)
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	return cloneMessages(st.messages), nil
}

func (s *inboxService) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *inboxService) Snapshot() *ViewSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *inboxService) snapshotLocked() *ViewSnapshot {
	snap := &ViewSnapshot{
		Conversations: s.conversationsLocked(),
		ActiveID:      s.activeID,
		Messages:      []*domain.Message{},
	}
	if st, ok := s.convs[s.activeID]; ok {
		snap.Messages = cloneMessages(st.messages)
	}
	return snap
}

func (s *inboxService) Subscribe() (<-chan *ViewSnapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan *ViewSnapshot, 1)
	ch <- s.snapshotLocked()
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
}

// notifyLocked заменяет непрочитанный снимок в канале подписчика на свежий
func (s *inboxService) notifyLocked() {
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Refresh перечитывает список бесед. Параллельные вызовы схлопываются в один запрос.
func (s *inboxService) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *inboxService) refresh(ctx context.Context) error {
	raw, err := s.persistence.FetchConversations(ctx)
	if err != nil {
		s.log.Error("Failed to fetch conversations", "error", err)
		return err
	}

	convs, errs := s.norm.Conversations(raw)
	for _, nerr := range errs {
		s.log.Warn("Dropped malformed conversation", "error", nerr)
		s.journal.Note(domain.JournalMalformedPayload, "", "", nerr.Error())
	}
	deduped := DeduplicateConversations(convs, s.me)
	if dropped := len(convs) - len(deduped); dropped > 0 {
		s.log.Debug("Collapsed duplicate conversations", "dropped", dropped)
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(deduped))
	for _, fc := range deduped {
		seen[s.upsertConversationLocked(fc)] = true
	}
	for id, st := range s.convs {
		if seen[id] || hasInFlight(st) {
			continue
		}
		s.log.Info("Conversation gone on server, dropping", "conversation_id", id)
		s.removeConversationLocked(id)
	}
	s.notifyLocked()
	ids, resolver := s.unresolvedLocked(), s.unresolved
	s.mu.Unlock()

	s.metrics.Refreshes.Inc()
	if resolver != nil && len(ids) > 0 {
		resolver(ids)
	}
	return nil
}

func hasInFlight(st *conversationState) bool {
	for _, m := range st.messages {
		if m.Status == domain.StatusSending || m.Status == domain.StatusFailed {
			return true
		}
	}
	return false
}

func (s *inboxService) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	id, ok := s.aliases[conversationID]
	s.mu.Unlock()
	if !ok {
		if err := s.Refresh(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		id, ok = s.aliases[conversationID]
		s.mu.Unlock()
		if !ok {
			return apperrors.ErrConversationNotFound
		}
	}

	s.mu.Lock()
	st, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return apperrors.ErrConversationNotFound
	}
	prev := s.activeID
	s.activeID = id
	loaded := st.loaded
	s.notifyLocked()
	s.mu.Unlock()

	if prev != "" && prev != id {
		s.emit(ctx, domain.OutboundLeaveConversation, map[string]string{"conversationId": prev})
	}
	s.emit(ctx, domain.OutboundJoinConversation, map[string]string{"conversationId": id})

	if !loaded {
		if _, err := s.loadPage(ctx, id, 1); err != nil {
			return err
		}
	}
	return s.MarkRead(ctx, id)
}

// Close отписывает беседу от room-потока. Запросы, уже ушедшие в persistence API,
// не отменяются и применятся к состоянию по завершении.
func (s *inboxService) Close(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	id, ok := s.aliases[conversationID]
	if !ok {
		s.mu.Unlock()
		return apperrors.ErrConversationNotFound
	}
	if s.activeID == id {
		s.activeID = ""
	}
	s.notifyLocked()
	s.mu.Unlock()

	s.emit(ctx, domain.OutboundLeaveConversation, map[string]string{"conversationId": id})
	return nil
}

func (s *inboxService) MarkRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	st, ok := s.stateLocked(conversationID)
	if !ok {
		s.mu.Unlock()
		return apperrors.ErrConversationNotFound
	}
	id := st.conv.ID
	s.markIncomingReadLocked(st, nil)
	s.notifyLocked()
	s.mu.Unlock()

	s.emit(ctx, domain.OutboundMarkRead, map[string]string{"conversationId": id})
	s.sched.Go(func() {
		callCtx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		defer cancel()
		if err := s.persistence.MarkConversationRead(callCtx, id); err != nil {
			s.log.Warn("Failed to mark conversation read", "error", err, "conversation_id", id)
		}
	})
	return nil
}

// markMessagesRead - авто-прочтение входящего сообщения в открытой беседе
func (s *inboxService) markMessagesRead(conversationID string, messageIDs []string) {
	s.mu.Lock()
	st, ok := s.stateLocked(conversationID)
	if !ok {
		s.mu.Unlock()
		return
	}
	id := st.conv.ID
	s.markIncomingReadLocked(st, messageIDs)
	s.notifyLocked()
	s.mu.Unlock()

	s.emit(context.Background(), domain.OutboundMarkRead, map[string]interface{}{
		"conversationId": id,
		"messageIds":     messageIDs,
	})
	s.sched.Go(func() {
		callCtx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		defer cancel()
		if err := s.persistence.MarkMessagesRead(callCtx, id, messageIDs); err != nil {
			s.log.Warn("Failed to mark messages read", "error", err, "conversation_id", id)
		}
	})
}

// markIncomingReadLocked помечает входящие прочитанными; ids == nil - все
func (s *inboxService) markIncomingReadLocked(st *conversationState, ids []string) {
	for _, m := range st.messages {
		if m.Outgoing(s.me) || m.Read {
			continue
		}
		if ids != nil && !hasAnyID(m, ids) {
			continue
		}
		m.Read = true
		if m.Status.Rank() >= domain.StatusSent.Rank() {
			m.Status = domain.StatusRead
		}
	}
	if ids == nil {
		st.conv.UnreadCount = 0
	} else {
		unread := 0
		for _, m := range st.messages {
			if !m.Outgoing(s.me) && !m.Read {
				unread++
			}
		}
		if unread < st.conv.UnreadCount {
			st.conv.UnreadCount = unread
		}
	}
	s.refreshLastMessageLocked(st)
}

func (s *inboxService) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	id, ok := s.aliases[conversationID]
	s.mu.Unlock()
	if !ok {
		return apperrors.ErrConversationNotFound
	}

	if err := s.persistence.DeleteConversation(ctx, id); err != nil {
		s.log.Error("Failed to delete conversation", "error", err, "conversation_id", id)
		return err
	}

	s.mu.Lock()
	wasActive := s.activeID == id
	s.removeConversationLocked(id)
	s.notifyLocked()
	s.mu.Unlock()

	if wasActive {
		s.emit(ctx, domain.OutboundLeaveConversation, map[string]string{"conversationId": id})
	}
	return nil
}

// LoadOlder подгружает следующую страницу истории. Возвращает число новых сообщений.
func (s *inboxService) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	st, ok := s.stateLocked(conversationID)
	if !ok {
		s.mu.Unlock()
		return 0, apperrors.ErrConversationNotFound
	}
	id, page, hasMore, loaded := st.conv.ID, st.page+1, st.hasMore, st.loaded
	s.mu.Unlock()

	if loaded && !hasMore {
		return 0, nil
	}
	if !loaded {
		page = 1
	}
	return s.loadPage(ctx, id, page)
}

func (s *inboxService) loadPage(ctx context.Context, conversationID string, page int) (int, error) {
	raw, err := s.persistence.FetchMessages(ctx, conversationID, page, s.cfg.PageLimit)
	if err != nil {
		s.log.Error("Failed to fetch messages", "error", err, "conversation_id", conversationID, "page", page)
		return 0, err
	}
	msgs, errs := s.norm.Messages(raw, normalizer.Hint{ConversationID: conversationID})
	for _, nerr := range errs {
		s.log.Warn("Dropped malformed message", "error", nerr, "conversation_id", conversationID)
		s.journal.Note(domain.JournalMalformedPayload, conversationID, "", nerr.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[conversationID]
	if !ok {
		// беседу удалили, пока шел запрос
		return 0, apperrors.ErrConversationNotFound
	}

	added := 0
	for _, msg := range msgs {
		if owner, known := s.aliases[msg.ConversationID]; !known {
			// id беседы в другой схеме
			s.aliases[msg.ConversationID] = conversationID
			st.conv.Aliases = appendAlias(st.conv.Aliases, msg.ConversationID)
		} else if owner != conversationID {
			s.log.Warn("Fetched message belongs to another conversation", "conversation_id", conversationID, "message_id", msg.ID)
			continue
		}
		msg.ConversationID = conversationID
		if _, created := s.applyMessageLocked(st, msg); created {
			added++
		}
	}
	st.loaded = true
	if page > st.page {
		st.page = page
	}
	st.hasMore = len(msgs)+len(errs) >= s.cfg.PageLimit
	s.notifyLocked()
	return added, nil
}

// --- операции движка для send pipeline и event router ---

func (s *inboxService) stateLocked(ref string) (*conversationState, bool) {
	id, ok := s.aliases[ref]
	if !ok {
		return nil, false
	}
	st, ok := s.convs[id]
	return st, ok
}

// knows - отслеживается ли беседа с таким id (любой схемы)
func (s *inboxService) knows(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.aliases[ref]
	return ok
}

// conversationWith ищет беседу с собеседником
func (s *inboxService) conversationWith(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationWithLocked(userID)
}

func (s *inboxService) conversationWithLocked(userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	for id, st := range s.convs {
		if other, ok := st.conv.OtherParticipant(s.me); ok && other.ID == userID {
			return id, true
		}
	}
	return "", false
}

// resolvePair выводит беседу по паре отправитель/получатель
func (s *inboxService) resolvePair(senderID, recipientID string) (string, bool) {
	other := senderID
	if senderID == s.me {
		other = recipientID
	}
	return s.conversationWith(other)
}

// addConversation добавляет (или сливает с существующей) беседу, возвращает канонический id
func (s *inboxService) addConversation(conv *domain.Conversation) string {
	s.mu.Lock()
	id := s.upsertConversationLocked(conv)
	s.notifyLocked()
	ids, resolver := s.unresolvedLocked(), s.unresolved
	s.mu.Unlock()

	if resolver != nil && len(ids) > 0 {
		resolver(ids)
	}
	return id
}

func (s *inboxService) upsertConversationLocked(fc *domain.Conversation) string {
	fc = fc.Clone()
	existing := ""
	for _, alias := range append([]string{fc.ID}, fc.Aliases...) {
		if id, ok := s.aliases[alias]; ok {
			existing = id
			break
		}
	}
	if existing == "" {
		if other, ok := fc.OtherParticipant(s.me); ok {
			existing, _ = s.conversationWithLocked(other.ID)
		}
	}

	if existing == "" {
		st := &conversationState{conv: fc, typing: make(map[string]*typingEntry)}
		if st.conv.TypingUsers == nil {
			st.conv.TypingUsers = []domain.UserRef{}
		}
		s.convs[fc.ID] = st
		for _, alias := range append([]string{fc.ID}, fc.Aliases...) {
			s.aliases[alias] = fc.ID
		}
		return fc.ID
	}

	st := s.convs[existing]
	if existing != fc.ID {
		// id с сервера становится каноническим, старый остается алиасом
		s.rekeyLocked(st, fc.ID)
	}
	s.mergeConversationLocked(st, fc)
	return st.conv.ID
}

func (s *inboxService) rekeyLocked(st *conversationState, newID string) {
	oldID := st.conv.ID
	delete(s.convs, oldID)
	st.conv.ID = newID
	st.conv.Aliases = appendAlias(appendAlias(st.conv.Aliases, oldID), newID)
	s.convs[newID] = st
	for alias, target := range s.aliases {
		if target == oldID {
			s.aliases[alias] = newID
		}
	}
	s.aliases[newID] = newID
	for _, m := range st.messages {
		m.ConversationID = newID
	}
	if st.conv.LastMessage != nil {
		st.conv.LastMessage.ConversationID = newID
	}
	if s.activeID == oldID {
		s.activeID = newID
	}
}

func (s *inboxService) mergeConversationLocked(st *conversationState, fc *domain.Conversation) {
	conv := st.conv
	for _, alias := range fc.Aliases {
		conv.Aliases = appendAlias(conv.Aliases, alias)
		s.aliases[alias] = conv.ID
	}

	// профили, уже разрешенные локально, не теряются
	profiles := make(map[string]*domain.UserProfile)
	for _, p := range conv.Participants {
		if p.Profile != nil {
			profiles[p.ID] = p.Profile
		}
	}
	if len(fc.Participants) > 0 {
		conv.Participants = fc.Participants
		for i, p := range conv.Participants {
			if p.Profile == nil {
				conv.Participants[i].Profile = profiles[p.ID]
			}
		}
	}

	if !fc.CreatedAt.IsZero() {
		conv.CreatedAt = fc.CreatedAt
	}
	if fc.UpdatedAt != nil {
		conv.UpdatedAt = fc.UpdatedAt
	}
	if s.activeID == conv.ID {
		conv.UnreadCount = 0
	} else {
		conv.UnreadCount = fc.UnreadCount
	}

	if lm := fc.LastMessage; lm != nil {
		lm.ConversationID = conv.ID
		if st.loaded && lm.SenderID != "" && lm.IDSource != domain.IDLocal {
			// полноценное последнее сообщение попадает и в ленту
			s.applyMessageLocked(st, lm.Clone())
		}
		switch cur := conv.LastMessage; {
		case cur == nil:
			conv.LastMessage = lm
		case s.matcher.Same(cur, lm):
			conv.LastMessage = s.matcher.Merge(cur, lm)
		case lm.CreatedAt.After(cur.CreatedAt):
			conv.LastMessage = lm
		}
	}
	s.refreshLastMessageLocked(st)
}

// applyMessage применяет запись сообщения к беседе: сливает со всеми
// совпадающими копиями, так что на один clientId в ленте остается одна запись.
// created=false, если запись сложилась с уже известным сообщением.
func (s *inboxService) applyMessage(msg *domain.Message) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stateLocked(msg.ConversationID)
	if !ok {
		return nil, false, apperrors.ErrConversationNotFound
	}
	// превью из списка бесед уже учтено в серверном unreadCount
	prev := st.conv.LastMessage
	seen := s.matcher.Same(prev, msg)
	if seen {
		msg = s.matcher.Merge(prev, msg)
	} else {
		msg = msg.Clone()
	}
	msg.ConversationID = st.conv.ID
	applied, created := s.applyMessageLocked(st, msg)
	created = created && !seen

	if created && !applied.Outgoing(s.me) {
		// новое сообщение от собеседника снимает его typing
		if entry, typing := st.typing[applied.SenderID]; typing {
			s.dropTypingLocked(st, applied.SenderID, entry)
		}
		if s.activeID != st.conv.ID && !applied.Read {
			st.conv.UnreadCount++
		}
	}
	s.notifyLocked()
	return applied.Clone(), created, nil
}

func (s *inboxService) applyMessageLocked(st *conversationState, msg *domain.Message) (*domain.Message, bool) {
	created := true
	var superseded []string
	for {
		idx := s.matcher.Best(st.messages, msg)
		if idx < 0 {
			break
		}
		existing := st.messages[idx]
		msg = s.matcher.Merge(existing, msg)
		if existing.ClientID != msg.ClientID {
			superseded = append(superseded, existing.ClientID)
		}
		st.messages = append(st.messages[:idx], st.messages[idx+1:]...)
		created = false
		s.metrics.DuplicatesFolded.Inc()
		s.log.Debug("Folded duplicate message", "conversation_id", st.conv.ID, "client_id", msg.ClientID, "id", msg.ID)
	}

	// статус из трекера мог уйти дальше (подтверждение пришло раньше записи)
	for _, cid := range superseded {
		if status, ok := s.tracker.Status(cid); ok {
			s.tracker.Track(msg.ClientID, status, msg.Attempt)
		}
	}
	s.tracker.Forget(superseded...)
	setStatus(msg, s.tracker.Track(msg.ClientID, msg.Status, msg.Attempt))

	insertSorted(st, msg)
	s.refreshLastMessageLocked(st)
	return msg, created
}

func insertSorted(st *conversationState, msg *domain.Message) {
	i := sort.Search(len(st.messages), func(i int) bool {
		return msg.Before(st.messages[i])
	})
	st.messages = append(st.messages, nil)
	copy(st.messages[i+1:], st.messages[i:])
	st.messages[i] = msg
}

func (s *inboxService) refreshLastMessageLocked(st *conversationState) {
	n := len(st.messages)
	if n == 0 {
		return
	}
	tail := st.messages[n-1]
	lm := st.conv.LastMessage
	if lm == nil || !tail.CreatedAt.Before(lm.CreatedAt) || s.matcher.Same(lm, tail) {
		st.conv.LastMessage = tail.Clone()
		return
	}
	// превью с сервера новее загруженной ленты, но статус мог обновиться локально
	for _, m := range st.messages {
		if s.matcher.Same(m, lm) {
			st.conv.LastMessage = s.matcher.Merge(lm, m)
			return
		}
	}
}

func setStatus(m *domain.Message, status domain.DeliveryStatus) {
	if !status.Valid() {
		return
	}
	m.Status = status
	m.Pending = status == domain.StatusSending
	if status == domain.StatusRead {
		m.Read = true
	}
}

// findLocked ищет сообщение по clientId или id бэкенда (любой схемы)
func (s *inboxService) findLocked(conversationRef string, refs ...string) (*conversationState, *domain.Message) {
	var states []*conversationState
	if st, ok := s.stateLocked(conversationRef); ok {
		states = []*conversationState{st}
	} else {
		for _, st := range s.convs {
			states = append(states, st)
		}
	}
	for _, st := range states {
		for _, m := range st.messages {
			if hasAnyID(m, refs) {
				return st, m
			}
		}
	}
	return nil, nil
}

func hasAnyID(m *domain.Message, ids []string) bool {
	for _, id := range ids {
		if m.HasID(id) {
			return true
		}
	}
	return false
}

// insertDraft показывает оптимистичное сообщение сразу
func (s *inboxService) insertDraft(draft *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stateLocked(draft.ConversationID)
	if !ok {
		return nil, apperrors.ErrConversationNotFound
	}
	draft = draft.Clone()
	draft.ConversationID = st.conv.ID
	s.tracker.Track(draft.ClientID, domain.StatusSending, draft.Attempt)
	applied, _ := s.applyMessageLocked(st, draft)
	s.notifyLocked()
	return applied.Clone(), nil
}

// failDraft переводит черновик в failed, если он все еще sending
// и ошибка относится к текущей попытке
func (s *inboxService) failDraft(clientID string, attempt int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, msg := s.findLocked("", clientID)
	if msg == nil || msg.Attempt != attempt {
		return false
	}
	status, ok := s.tracker.Transition(msg.ClientID, domain.StatusFailed)
	if !ok {
		return false
	}
	setStatus(msg, status)
	s.refreshLastMessageLocked(st)
	s.notifyLocked()
	return true
}

// observeStatus применяет подтверждение (sent/delivered/read) к сообщению
func (s *inboxService) observeStatus(conversationRef string, status domain.DeliveryStatus, refs ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, msg := s.findLocked(conversationRef, refs...)
	if msg == nil {
		return false
	}
	if !s.observeLocked(st, msg, status) {
		return false
	}
	s.notifyLocked()
	return true
}

func (s *inboxService) observeLocked(st *conversationState, msg *domain.Message, status domain.DeliveryStatus) bool {
	if _, known := s.tracker.Status(msg.ClientID); !known {
		s.tracker.Track(msg.ClientID, msg.Status, msg.Attempt)
	}
	current, changed := s.tracker.Observe(msg.ClientID, status)
	if !changed {
		return false
	}
	setStatus(msg, current)
	s.refreshLastMessageLocked(st)
	return true
}

// markOutgoingRead - собеседник прочитал мои сообщения; ids == nil - всю беседу
func (s *inboxService) markOutgoingRead(conversationRef string, ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var states []*conversationState
	if st, ok := s.stateLocked(conversationRef); ok {
		states = []*conversationState{st}
	} else if len(ids) > 0 {
		for _, st := range s.convs {
			states = append(states, st)
		}
	}

	changed := 0
	for _, st := range states {
		for _, m := range st.messages {
			if !m.Outgoing(s.me) {
				continue
			}
			if ids == nil {
				// прочтение всей беседы не касается еще не сохраненных черновиков
				if m.Status == domain.StatusSending || m.Status == domain.StatusFailed {
					continue
				}
			} else if !hasAnyID(m, ids) {
				continue
			}
			if s.observeLocked(st, m, domain.StatusRead) {
				changed++
			}
		}
		if ids == nil {
			if lm := st.conv.LastMessage; lm != nil && lm.Outgoing(s.me) && lm.Status.Rank() >= domain.StatusSent.Rank() {
				setStatus(lm, domain.StatusRead)
			}
		}
	}
	if changed > 0 {
		s.notifyLocked()
	}
	return changed
}

// retryDraft возвращает failed-черновик в sending с новой попыткой
func (s *inboxService) retryDraft(clientID string, maxAttempts int) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, msg := s.findLocked("", clientID)
	if msg == nil {
		return nil, apperrors.ErrMessageNotFound
	}
	if msg.Status != domain.StatusFailed {
		return nil, apperrors.ErrNotRetryable
	}
	if maxAttempts > 0 && msg.Attempt >= maxAttempts {
		return nil, fmt.Errorf("%w: %d attempts", apperrors.ErrRetryLimitReached, msg.Attempt)
	}
	attempt, err := s.tracker.Retry(msg.ClientID)
	if err != nil {
		return nil, err
	}
	msg.Attempt = attempt
	setStatus(msg, domain.StatusSending)
	s.refreshLastMessageLocked(st)
	s.notifyLocked()
	return msg.Clone(), nil
}

// message возвращает копию сообщения по clientId/id
func (s *inboxService) message(ref string) (*domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, msg := s.findLocked("", ref)
	if msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// setTyping включает/выключает индикатор набора. Запись истекает сама через TypingTTL.
func (s *inboxService) setTyping(conversationRef, userID string, active bool) bool {
	if userID == "" || userID == s.me {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stateLocked(conversationRef)
	if !ok {
		return false
	}

	entry, exists := st.typing[userID]
	if !active {
		if !exists {
			return false
		}
		s.dropTypingLocked(st, userID, entry)
		s.notifyLocked()
		return true
	}

	if !exists {
		entry = &typingEntry{ref: domain.UserRef{ID: userID}}
		for _, p := range st.conv.Participants {
			if p.ID == userID {
				entry.ref = p
			}
		}
		st.typing[userID] = entry
	}
	if entry.stop != nil {
		entry.stop()
	}
	entry.gen++
	gen, convID := entry.gen, st.conv.ID
	entry.stop = s.sched.After(s.typingTTL(), func() {
		s.expireTyping(convID, userID, gen)
	})
	s.rebuildTypingLocked(st)
	s.notifyLocked()
	return true
}

func (s *inboxService) typingTTL() time.Duration {
	if s.cfg.TypingTTL <= 0 {
		return 3 * time.Second
	}
	return s.cfg.TypingTTL
}

func (s *inboxService) expireTyping(conversationID, userID string, gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stateLocked(conversationID)
	if !ok {
		return
	}
	entry, exists := st.typing[userID]
	if !exists || entry.gen != gen {
		// индикатор продлен новым событием
		return
	}
	delete(st.typing, userID)
	s.rebuildTypingLocked(st)
	s.notifyLocked()
}

func (s *inboxService) dropTypingLocked(st *conversationState, userID string, entry *typingEntry) {
	if entry.stop != nil {
		entry.stop()
	}
	delete(st.typing, userID)
	s.rebuildTypingLocked(st)
}

func (s *inboxService) rebuildTypingLocked(st *conversationState) {
	users := make([]domain.UserRef, 0, len(st.typing))
	for _, e := range st.typing {
		users = append(users, e.ref)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	st.conv.TypingUsers = users
}

// removeConversation - беседа удалена (событием push-канала)
func (s *inboxService) removeConversation(conversationRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.aliases[conversationRef]
	if !ok {
		return false
	}
	s.removeConversationLocked(id)
	s.notifyLocked()
	return true
}

func (s *inboxService) removeConversationLocked(id string) {
	st, ok := s.convs[id]
	if !ok {
		return
	}
	for userID, entry := range st.typing {
		if entry.stop != nil {
			entry.stop()
		}
		delete(st.typing, userID)
	}
	clientIDs := make([]string, 0, len(st.messages))
	for _, m := range st.messages {
		clientIDs = append(clientIDs, m.ClientID)
	}
	s.tracker.Forget(clientIDs...)
	for alias, target := range s.aliases {
		if target == id {
			delete(s.aliases, alias)
		}
	}
	delete(s.convs, id)
	if s.activeID == id {
		s.activeID = ""
	}
}

func (s *inboxService) unresolvedLocked() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, st := range s.convs {
		for _, p := range st.conv.Participants {
			if p.ID == s.me || p.Resolved() || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// applyProfiles подставляет разрешенные профили во все беседы
func (s *inboxService) applyProfiles(profiles []*domain.UserProfile) {
	if len(profiles) == 0 {
		return
	}
	byID := make(map[string]*domain.UserProfile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.convs {
		for i, p := range st.conv.Participants {
			if profile, ok := byID[p.ID]; ok {
				cp := *profile
				st.conv.Participants[i].Profile = &cp
			}
		}
		for _, e := range st.typing {
			if profile, ok := byID[e.ref.ID]; ok {
				cp := *profile
				e.ref.Profile = &cp
			}
		}
		s.rebuildTypingLocked(st)
	}
	s.notifyLocked()
}

func (s *inboxService) emit(ctx context.Context, event string, payload interface{}) {
	if err := s.push.Emit(ctx, event, payload); err != nil {
		if errors.Is(err, apperrors.ErrNotConnected) {
			s.log.Debug("Push channel offline, event not sent", "event", event)
			return
		}
		s.log.Warn("Failed to emit push event", "error", err, "event", event)
	}
}

func cloneMessages(msgs []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func appendAlias(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
