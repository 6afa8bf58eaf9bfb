package domain

// Входящие события push-канала
const (
	InboundReceiveMessage      = "receive_message"
	InboundMessageDelivered    = "message_delivered"
	InboundMessageRead         = "message_read"
	InboundMessageSeen         = "message_seen"
	InboundMessagesRead        = "messages_read"
	InboundTyping              = "typing"
	InboundStopTyping          = "stop_typing"
	InboundConversationDeleted = "conversation_deleted"
)

// Исходящие события push-канала
const (
	OutboundSendMessage       = "send_message"
	OutboundJoinConversation  = "join_conversation"
	OutboundLeaveConversation = "leave_conversation"
	OutboundMarkRead          = "mark_read"
	OutboundTyping            = "typing"
	OutboundStopTyping        = "stop_typing"
	OutboundConfirmDelivery   = "confirm_delivery"
)

type EventKind int

const (
	EventUnknown EventKind = iota
	EventNewMessage
	EventDeliveryAck
	EventReadAck
	EventConversationRead
	EventTypingStart
	EventTypingStop
	EventConversationDeleted
)

func (k EventKind) String() string {
	switch k {
	case EventNewMessage:
		return "new_message"
	case EventDeliveryAck:
		return "delivery_ack"
	case EventReadAck:
		return "read_ack"
	case EventConversationRead:
		return "conversation_read"
	case EventTypingStart:
		return "typing_start"
	case EventTypingStop:
		return "typing_stop"
	case EventConversationDeleted:
		return "conversation_deleted"
	default:
		return "unknown"
	}
}

// Ack - нормализованная ссылка из подтверждений и служебных событий
type Ack struct {
	ConversationID string
	MessageID      string
	ClientID       string
	MessageIDs     []string
	UserID         string // кто прочитал / кто печатает
}

// Event - классифицированное входящее событие
type Event struct {
	Kind    EventKind
	Name    string
	Message *Message // только для EventNewMessage
	Ack     Ack
}

// ConversationRef - ссылка на беседу, к которой относится событие
func (e Event) ConversationRef() string {
	if e.Message != nil && e.Message.ConversationID != "" {
		return e.Message.ConversationID
	}
	return e.Ack.ConversationID
}
