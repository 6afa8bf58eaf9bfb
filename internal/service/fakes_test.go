package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"social_client/internal/config"
	"social_client/internal/domain"
	"social_client/internal/repository"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

const me = "me"

// manualScheduler выполняет фоновые задачи и таймеры только по команде теста
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	tasks  []func()
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Now()}
}

func (s *manualScheduler) Go(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, fn)
}

func (s *manualScheduler) After(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{at: s.now.Add(d), fn: fn}
	s.timers = append(s.timers, t)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.stopped || t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// RunPending выполняет очередь задач, включая поставленные по ходу
func (s *manualScheduler) RunPending() {
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.mu.Unlock()
		fn()
	}
}

// Advance двигает часы и срабатывает наступившие таймеры по порядку
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].at.Before(s.timers[j].at) })
		var due *manualTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && !t.at.After(s.now) {
				due = t
				break
			}
		}
		if due != nil {
			due.fired = true
		}
		s.mu.Unlock()
		if due == nil {
			break
		}
		due.fn()
	}
	s.RunPending()
}

type fakePersistence struct {
	mu sync.Mutex

	conversations    []byte
	conversationsErr error
	pages            map[string]map[int][]byte
	created          []byte
	createErr        error
	onSend           func(req *repository.SendMessageRequest) ([]byte, error)
	deleteErr        error

	fetches       int
	sent          []*repository.SendMessageRequest
	createdWith   []string
	readConvs     []string
	readMessages  map[string][]string
	deleted       []string
	fetchedPages  []string
	nextMessageID int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		conversations: []byte(`{"conversations":[]}`),
		pages:         make(map[string]map[int][]byte),
		readMessages:  make(map[string][]string),
	}
}

func (f *fakePersistence) setConversations(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = []byte(raw)
}

func (f *fakePersistence) setPage(conversationID string, page int, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pages[conversationID] == nil {
		f.pages[conversationID] = make(map[int][]byte)
	}
	f.pages[conversationID][page] = []byte(raw)
}

func (f *fakePersistence) FetchConversations(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.conversations, f.conversationsErr
}

func (f *fakePersistence) FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchedPages = append(f.fetchedPages, fmt.Sprintf("%s:%d", conversationID, page))
	if raw, ok := f.pages[conversationID][page]; ok {
		return raw, nil
	}
	return []byte(`{"messages":[]}`), nil
}

func (f *fakePersistence) CreateConversation(ctx context.Context, participantID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdWith = append(f.createdWith, participantID)
	return f.created, f.createErr
}

func (f *fakePersistence) SendMessage(ctx context.Context, req *repository.SendMessageRequest) ([]byte, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	onSend := f.onSend
	f.nextMessageID++
	id := fmt.Sprintf("m-%d", f.nextMessageID)
	f.mu.Unlock()

	if onSend != nil {
		return onSend(req)
	}
	return persistedMessage(id, req), nil
}

func (f *fakePersistence) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readMessages[conversationID] = append(f.readMessages[conversationID], messageIDs...)
	return nil
}

func (f *fakePersistence) MarkConversationRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readConvs = append(f.readConvs, conversationID)
	return nil
}

func (f *fakePersistence) DeleteConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, conversationID)
	return nil
}

func persistedMessage(id string, req *repository.SendMessageRequest) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"message": map[string]interface{}{
			"id":             id,
			"conversationId": req.ConversationID,
			"senderId":       me,
			"recipientId":    req.RecipientID,
			"text":           req.Text,
			"createdAt":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	return raw
}

type pushEvent struct {
	Name    string
	Payload interface{}
}

type recordingPush struct {
	mu        sync.Mutex
	events    []pushEvent
	offline   bool
	onConnect []func()
}

func (p *recordingPush) Emit(ctx context.Context, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.offline {
		return apperrors.ErrNotConnected
	}
	p.events = append(p.events, pushEvent{Name: event, Payload: payload})
	return nil
}

func (p *recordingPush) Run(ctx context.Context, handler func(frame []byte)) error {
	<-ctx.Done()
	return nil
}

func (p *recordingPush) OnConnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = append(p.onConnect, fn)
}

func (p *recordingPush) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.offline
}

func (p *recordingPush) Close() error { return nil }

func (p *recordingPush) named(name string) []pushEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushEvent
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPush) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Name)
	}
	return out
}

func (p *recordingPush) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []*domain.JournalEntry
}

func (j *memoryJournal) Record(ctx context.Context, entry *domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *memoryJournal) Recent(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*domain.JournalEntry(nil), j.entries...), nil
}

func (j *memoryJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Kind)
	}
	return out
}

type fakeUsers struct {
	mu      sync.Mutex
	records map[string]string
	calls   map[string]int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{records: make(map[string]string), calls: make(map[string]int)}
}

func (u *fakeUsers) FetchUser(ctx context.Context, userID string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls[userID]++
	raw, ok := u.records[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return []byte(raw), nil
}

func (u *fakeUsers) callCount(userID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[userID]
}

type harness struct {
	t        *testing.T
	cfg      *config.Config
	sched    *manualScheduler
	api      *fakePersistence
	push     *recordingPush
	journal  *memoryJournal
	users    *fakeUsers
	services *Services
	inbox    *inboxService
	sender   *sendPipeline
	router   *eventRouter
}

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			SendTimeout:      5 * time.Second,
			TypingTTL:        3 * time.Second,
			TypingThrottle:   2 * time.Second,
			MatchWindow:      time.Minute,
			PageLimit:        3,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Second,
			RetryMaxDelay:    10 * time.Second,
			TestMarker:       "[seed]",
			EventBufferSize:  4,
		},
	}
}

func newHarness(t *testing.T, tweaks ...func(cfg *config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	h := &harness{
		t:       t,
		cfg:     cfg,
		sched:   newManualScheduler(),
		api:     newFakePersistence(),
		push:    &recordingPush{},
		journal: &memoryJournal{},
		users:   newFakeUsers(),
	}
	repos := &repository.Repositories{
		Persistence: h.api,
		Enrichment:  h.users,
		Push:        h.push,
		Profiles:    repository.NewMemoryProfileCache(),
		Journal:     h.journal,
	}
	h.services = NewServices(repos, cfg, me, h.sched, prometheus.NewRegistry(), logger.Discard())
	h.inbox = h.services.Inbox.(*inboxService)
	h.sender = h.services.Sender.(*sendPipeline)
	h.router = h.services.Router.(*eventRouter)
	return h
}

// conversationJSON - беседа в legacy-схеме с превью последнего сообщения
func conversationJSON(id, other string, lastAt time.Time) string {
	return fmt.Sprintf(`{"_id":%q,"participants":[%q,%q],"createdAt":%q,"lastMessageAt":%q}`,
		id, me, other, lastAt.Add(-time.Hour).Format(time.RFC3339), lastAt.Format(time.RFC3339))
}

func conversationList(items ...string) string {
	return `{"conversations":[` + strings.Join(items, ",") + `]}`
}

func messageJSON(id, conversationID, sender, recipient, text string, at time.Time) string {
	return fmt.Sprintf(`{"_id":%q,"conversationId":%q,"senderId":%q,"recipientId":%q,"text":%q,"createdAt":%q}`,
		id, conversationID, sender, recipient, text, at.UTC().Format(time.RFC3339Nano))
}

func frame(event string, data string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":%s}`, event, data))
}

// load устанавливает список бесед и выполняет Refresh со всеми фоновыми задачами
func (h *harness) load(items ...string) {
	h.t.Helper()
	h.api.setConversations(conversationList(items...))
	require.NoError(h.t, h.inbox.Refresh(context.Background()))
	h.sched.RunPending()
}

func (h *harness) conversation(id string) *domain.Conversation {
	h.t.Helper()
	for _, c := range h.inbox.Conversations() {
		if c.HasID(id) {
			return c
		}
	}
	h.t.Fatalf("conversation %s not found", id)
	return nil
}

func (h *harness) messages(conversationID string) []*domain.Message {
	h.t.Helper()
	msgs, err := h.inbox.Messages(conversationID)
	require.NoError(h.t, err)
	return msgs
}

func conversationIDs(convs []*domain.Conversation) []string {
	out := make([]string, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.ID)
	}
	return out
}
