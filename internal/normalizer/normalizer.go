// Package normalizer - единственная точка, где сырые payload'ы бэкенда и
// push-канала (legacy и migrated схемы) превращаются в канонические записи.
// За пределами этого пакета форма payload'а не анализируется.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"social_client/internal/domain"
	apperrors "social_client/pkg/errors"
)

// Origin - источник записи, определяет значения по умолчанию
type Origin int

const (
	OriginFetch Origin = iota
	OriginPush
	OriginDraft
)

// Hint - контекст, из которого можно вывести беседу, если в payload ее нет
type Hint struct {
	ConversationID string
	Resolve        func(senderID, recipientID string) (string, bool)
}

type Normalizer struct {
	now         func() time.Time
	newClientID func() string
}

func New() *Normalizer {
	return &Normalizer{
		now:         time.Now,
		newClientID: NewClientID,
	}
}

// WithClock подменяет часы (для тестов)
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// NewClientID генерирует локальный correlation id
func NewClientID() string {
	return "c-" + uuid.NewString()
}

// Ключи полей: первым идет новая (migrated) схема, затем legacy
var (
	messageIDKeys      = []string{"id", "_id"}
	conversationKeys   = []string{"conversation_id", "conversationId", "conversation", "chat_id", "chatId"}
	senderKeys         = []string{"sender_id", "senderId", "sender", "from"}
	recipientKeys      = []string{"recipient_id", "recipientId", "receiver_id", "receiverId", "receiver", "to"}
	textKeys           = []string{"text", "content", "body", "message"}
	createdAtKeys      = []string{"created_at", "createdAt", "timestamp", "sent_at", "sentAt"}
	readKeys           = []string{"read", "is_read", "isRead", "seen"}
	statusKeys         = []string{"delivery_status", "status", "deliveryStatus"}
	clientIDKeys       = []string{"client_id", "clientId", "temp_id", "tempId"}
	mediaURLKeys       = []string{"media_url", "mediaUrl", "image_url", "imageUrl"}
	mediaKindKeys      = []string{"media_type", "mediaType", "media_kind", "mediaKind"}
	participantsKeys   = []string{"participant_ids", "participants", "participantIds", "members", "users"}
	lastMessageKeys    = []string{"last_message", "lastMessage"}
	lastMessageAtKeys  = []string{"last_message_at", "lastMessageAt"}
	lastMessageTxtKeys = []string{"last_message_text", "lastMessageText"}
	updatedAtKeys      = []string{"updated_at", "updatedAt"}
	unreadKeys         = []string{"unread_count", "unreadCount", "unread"}
	userIDKeys         = []string{"id", "_id", "user_id", "userId"}
	userNameKeys       = []string{"display_name", "displayName", "name", "full_name", "fullName", "username"}
	userAvatarKeys     = []string{"avatar_url", "avatarUrl", "avatar", "profile_picture", "profilePicture"}
)

// Message нормализует одно сообщение
func (n *Normalizer) Message(raw []byte, origin Origin, hint Hint) (*domain.Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", apperrors.ErrMalformedPayload)
	}
	return n.message(gjson.ParseBytes(raw), origin, hint)
}

func (n *Normalizer) message(r gjson.Result, origin Origin, hint Hint) (*domain.Message, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: message is not an object", apperrors.ErrMalformedPayload)
	}

	// push-события и ответы API заворачивают сообщение в {"message": {...}} / {"data": {...}}
	for _, key := range []string{"message", "data"} {
		if inner := r.Get(key); inner.IsObject() {
			if conv := ref(first(r, conversationKeys...)); conv != "" && hint.ConversationID == "" {
				hint.ConversationID = conv
			}
			r = inner
			break
		}
	}

	msg := &domain.Message{}

	idKey := ""
	for _, key := range messageIDKeys {
		if id := ref(r.Get(key)); id != "" {
			if idKey == "" {
				idKey = key
				msg.ID = id
			}
			msg.Aliases = appendUnique(msg.Aliases, id)
		}
	}
	switch idKey {
	case "id":
		msg.IDSource = domain.IDMigrated
	case "_id":
		msg.IDSource = domain.IDLegacy
	}

	msg.SenderID = ref(first(r, senderKeys...))
	if msg.SenderID == "" {
		return nil, fmt.Errorf("%w: message without sender", apperrors.ErrMalformedPayload)
	}
	msg.RecipientID = ref(first(r, recipientKeys...))
	msg.Text = first(r, textKeys...).String()
	msg.Media = media(r)
	if strings.TrimSpace(msg.Text) == "" && msg.Media == nil {
		return nil, fmt.Errorf("%w: message without text or media", apperrors.ErrMalformedPayload)
	}

	msg.ConversationID = ref(first(r, conversationKeys...))
	if msg.ConversationID == "" {
		msg.ConversationID = hint.ConversationID
	}
	if msg.ConversationID == "" && hint.Resolve != nil {
		if id, ok := hint.Resolve(msg.SenderID, msg.RecipientID); ok {
			msg.ConversationID = id
		}
	}
	if msg.ConversationID == "" {
		return nil, apperrors.ErrOrphanedRecord
	}

	if ts, ok := parseTime(first(r, createdAtKeys...)); ok {
		msg.CreatedAt = ts
	} else {
		msg.CreatedAt = n.now()
	}

	if cid := first(r, clientIDKeys...).String(); cid != "" {
		msg.ClientID = cid
	} else {
		msg.ClientID = n.newClientID()
		msg.SyntheticClientID = true
	}

	msg.Read = first(r, readKeys...).Type == gjson.True

	switch origin {
	case OriginDraft:
		msg.Status = domain.StatusSending
	default:
		msg.Status = domain.StatusSent
		if s := parseStatus(first(r, statusKeys...).String()); s.Rank() > msg.Status.Rank() {
			msg.Status = s
		}
	}
	if msg.Read && msg.Status.Rank() < domain.StatusRead.Rank() && origin != OriginDraft {
		msg.Status = domain.StatusRead
	}
	if msg.Status == domain.StatusRead {
		msg.Read = true
	}
	msg.Pending = msg.Status == domain.StatusSending

	if msg.ID == "" && origin == OriginFetch {
		return nil, fmt.Errorf("%w: persisted message without id", apperrors.ErrMalformedPayload)
	}

	if msg.ID != "" && origin != OriginDraft {
		msg.Authoritative = true
		ts := msg.CreatedAt
		msg.ServerCreatedAt = &ts
	} else {
		msg.ID = msg.ClientID
		msg.IDSource = domain.IDLocal
		msg.Aliases = nil
	}
	return msg, nil
}

// Messages нормализует список сообщений. Битые элементы пропускаются,
// ошибки возвращаются по одной на элемент.
func (n *Normalizer) Messages(raw []byte, hint Hint) ([]*domain.Message, []error) {
	if !gjson.ValidBytes(raw) {
		return nil, []error{fmt.Errorf("%w: invalid json", apperrors.ErrMalformedPayload)}
	}
	items := listItems(gjson.ParseBytes(raw), "messages", "data.messages", "data", "items", "results")
	messages := make([]*domain.Message, 0, len(items))
	var errs []error
	for _, item := range items {
		msg, err := n.message(item, OriginFetch, hint)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, errs
}

// Draft - входные данные локально созданного сообщения
type Draft struct {
	ConversationID string
	SenderID       string
	RecipientID    string
	Text           string
	Media          *domain.Media
	ClientID       string
}

// Draft строит каноническое оптимистичное сообщение
func (n *Normalizer) Draft(d Draft) (*domain.Message, error) {
	if d.ConversationID == "" {
		return nil, apperrors.ErrOrphanedRecord
	}
	if d.SenderID == "" {
		return nil, fmt.Errorf("%w: draft without sender", apperrors.ErrMalformedPayload)
	}
	if strings.TrimSpace(d.Text) == "" && d.Media == nil {
		return nil, fmt.Errorf("%w: message without text or media", apperrors.ErrMalformedPayload)
	}
	clientID := d.ClientID
	if clientID == "" {
		clientID = n.newClientID()
	}
	var media *domain.Media
	if d.Media != nil && d.Media.URL != "" {
		media = &domain.Media{URL: d.Media.URL, Kind: parseMediaKind(string(d.Media.Kind))}
	}
	return &domain.Message{
		ID:             clientID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		RecipientID:    d.RecipientID,
		Text:           d.Text,
		Media:          media,
		CreatedAt:      n.now(),
		Status:         domain.StatusSending,
		Pending:        true,
		ClientID:       clientID,
		Attempt:        1,
		IDSource:       domain.IDLocal,
	}, nil
}

// Conversation нормализует одну беседу
func (n *Normalizer) Conversation(raw []byte) (*domain.Conversation, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", apperrors.ErrMalformedPayload)
	}
	return n.conversation(gjson.ParseBytes(raw))
}

func (n *Normalizer) conversation(r gjson.Result) (*domain.Conversation, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("%w: conversation is not an object", apperrors.ErrMalformedPayload)
	}
	for _, key := range []string{"conversation", "data"} {
		if inner := r.Get(key); inner.IsObject() {
			r = inner
			break
		}
	}

	conv := &domain.Conversation{TypingUsers: []domain.UserRef{}}
	for _, key := range []string{"id", "_id", "conversation_id", "conversationId"} {
		if id := ref(r.Get(key)); id != "" {
			if conv.ID == "" {
				conv.ID = id
			}
			conv.Aliases = appendUnique(conv.Aliases, id)
		}
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("%w: conversation without id", apperrors.ErrMalformedPayload)
	}

	seen := make(map[string]bool)
	addParticipant := func(v gjson.Result) {
		id := ref(v)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		conv.Participants = append(conv.Participants, domain.UserRef{ID: id, Profile: profile(v)})
	}
	if list := first(r, participantsKeys...); list.IsArray() {
		list.ForEach(func(_, v gjson.Result) bool {
			addParticipant(v)
			return true
		})
	} else {
		for _, pair := range [][2]string{{"user1_id", "user2_id"}, {"user1", "user2"}} {
			addParticipant(r.Get(pair[0]))
			addParticipant(r.Get(pair[1]))
		}
	}
	if len(conv.Participants) > 2 {
		return nil, fmt.Errorf("%w: conversation %s has %d participants", apperrors.ErrMalformedPayload, conv.ID, len(conv.Participants))
	}

	if ts, ok := parseTime(first(r, "created_at", "createdAt")); ok {
		conv.CreatedAt = ts
	}
	if ts, ok := parseTime(first(r, updatedAtKeys...)); ok {
		conv.UpdatedAt = &ts
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = ts
		}
	}

	hint := Hint{ConversationID: conv.ID}
	lm := first(r, lastMessageKeys...)
	if lm.IsObject() {
		if msg, err := n.message(lm, OriginFetch, hint); err == nil {
			msg.ConversationID = conv.ID
			conv.LastMessage = msg
		}
	}
	if conv.LastMessage == nil {
		// неполное превью: достаточно времени, чтобы упорядочить беседы
		ts, ok := parseTime(first(r, lastMessageAtKeys...))
		text := first(r, lastMessageTxtKeys...).String()
		if !ok && lm.IsObject() {
			ts, ok = parseTime(first(lm, createdAtKeys...))
			text = first(lm, textKeys...).String()
		}
		if ok {
			conv.LastMessage = &domain.Message{
				ID:             ref(lm),
				ConversationID: conv.ID,
				SenderID:       ref(first(lm, senderKeys...)),
				Text:           text,
				CreatedAt:      ts,
				Status:         domain.StatusSent,
				Authoritative:  true,
			}
		}
	}

	if unread := first(r, unreadKeys...); unread.Type == gjson.Number && unread.Int() > 0 {
		conv.UnreadCount = int(unread.Int())
	}

	return conv, nil
}

// Conversations нормализует список бесед, битые записи пропускаются
func (n *Normalizer) Conversations(raw []byte) ([]*domain.Conversation, []error) {
	if !gjson.ValidBytes(raw) {
		return nil, []error{fmt.Errorf("%w: invalid json", apperrors.ErrMalformedPayload)}
	}
	items := listItems(gjson.ParseBytes(raw), "conversations", "data.conversations", "data", "items", "results")
	convs := make([]*domain.Conversation, 0, len(items))
	var errs []error
	for _, item := range items {
		conv, err := n.conversation(item)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		convs = append(convs, conv)
	}
	return convs, errs
}

// User нормализует запись профиля из API профилей
func (n *Normalizer) User(raw []byte) (*domain.UserProfile, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", apperrors.ErrMalformedPayload)
	}
	r := gjson.ParseBytes(raw)
	if inner := r.Get("user"); inner.IsObject() {
		r = inner
	} else if inner := r.Get("data"); inner.IsObject() {
		r = inner
	}
	id := ref(first(r, userIDKeys...))
	if id == "" {
		return nil, fmt.Errorf("%w: user without id", apperrors.ErrMalformedPayload)
	}
	return &domain.UserProfile{
		ID:        id,
		Name:      first(r, userNameKeys...).String(),
		AvatarURL: first(r, userAvatarKeys...).String(),
	}, nil
}

func media(r gjson.Result) *domain.Media {
	if m := r.Get("media"); m.IsObject() {
		url := first(m, "url", "uri", "src").String()
		if url == "" {
			return nil
		}
		return &domain.Media{URL: url, Kind: parseMediaKind(first(m, "kind", "type", "mime_type", "mimeType").String())}
	}
	url := first(r, mediaURLKeys...).String()
	if url == "" {
		return nil
	}
	return &domain.Media{URL: url, Kind: parseMediaKind(first(r, mediaKindKeys...).String())}
}

func parseMediaKind(s string) domain.MediaKind {
	if strings.HasPrefix(strings.ToLower(s), "video") {
		return domain.MediaVideo
	}
	return domain.MediaImage
}

func parseStatus(s string) domain.DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent":
		return domain.StatusSent
	case "delivered":
		return domain.StatusDelivered
	case "read", "seen":
		return domain.StatusRead
	default:
		return ""
	}
}

func profile(v gjson.Result) *domain.UserProfile {
	if !v.IsObject() {
		return nil
	}
	name := first(v, userNameKeys...).String()
	avatar := first(v, userAvatarKeys...).String()
	if name == "" && avatar == "" {
		return nil
	}
	return &domain.UserProfile{ID: ref(v), Name: name, AvatarURL: avatar}
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
