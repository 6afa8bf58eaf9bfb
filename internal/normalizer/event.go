package normalizer

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"social_client/internal/domain"
	apperrors "social_client/pkg/errors"
)

// Envelope разбирает кадр push-канала на имя события и данные.
// Поддерживаются {"event": ..., "data": ...} и ["event", data],
// в том числе с числовым префиксом socket.io ("42[...]").
func Envelope(frame []byte) (string, []byte, error) {
	s := strings.TrimLeft(string(frame), "0123456789")
	if !gjson.Valid(s) {
		return "", nil, fmt.Errorf("%w: invalid frame", apperrors.ErrMalformedPayload)
	}
	r := gjson.Parse(s)
	switch {
	case r.IsArray():
		items := r.Array()
		if len(items) == 0 || items[0].Type != gjson.String {
			return "", nil, fmt.Errorf("%w: frame without event name", apperrors.ErrMalformedPayload)
		}
		if len(items) < 2 {
			return items[0].String(), []byte("{}"), nil
		}
		return items[0].String(), []byte(items[1].Raw), nil
	case r.IsObject():
		name := first(r, "event", "type", "name").String()
		if name == "" {
			return "", nil, fmt.Errorf("%w: frame without event name", apperrors.ErrMalformedPayload)
		}
		data := first(r, "data", "payload")
		if !data.Exists() {
			return name, []byte(s), nil
		}
		return name, []byte(data.Raw), nil
	}
	return "", nil, fmt.Errorf("%w: unsupported frame", apperrors.ErrMalformedPayload)
}

var ackConversationKeys = []string{"conversation_id", "conversationId", "conversation", "room_id", "roomId", "room", "chat_id", "chatId"}

// Ack нормализует ссылки из подтверждений доставки/прочтения и typing-событий
func Ack(data []byte) domain.Ack {
	r := gjson.ParseBytes(data)
	if r.Type == gjson.String {
		// голый идентификатор беседы
		return domain.Ack{ConversationID: r.String()}
	}
	ack := domain.Ack{
		ConversationID: ref(first(r, ackConversationKeys...)),
		MessageID:      ref(first(r, "message_id", "messageId", "id", "_id", "message")),
		ClientID:       first(r, clientIDKeys...).String(),
		UserID:         ref(first(r, "user_id", "userId", "reader_id", "readerId", "read_by", "readBy", "sender_id", "senderId", "user")),
	}
	if ids := first(r, "message_ids", "messageIds"); ids.IsArray() {
		ids.ForEach(func(_, v gjson.Result) bool {
			if id := ref(v); id != "" {
				ack.MessageIDs = append(ack.MessageIDs, id)
			}
			return true
		})
	}
	return ack
}

// DeletedConversation извлекает id удаленной беседы; payload может быть
// голой строкой, {"conversationId": ...} или самой беседой {"_id": ...}
func DeletedConversation(data []byte) string {
	r := gjson.ParseBytes(data)
	if r.Type == gjson.String {
		return r.String()
	}
	if id := ref(first(r, ackConversationKeys...)); id != "" {
		return id
	}
	return ref(first(r, "id", "_id"))
}
