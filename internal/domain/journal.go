package domain

import (
	"time"
)

// JournalEntry - запись журнала синхронизации (диагностика, не влияет на состояние)
type JournalEntry struct {
	ID             int64                  `json:"id"`
	EventTime      time.Time              `json:"event_time"`
	Kind           string                 `json:"kind"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageRef     string                 `json:"message_ref,omitempty"`
	Detail         string                 `json:"detail,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

const (
	JournalOrphanedRecord   = "ORPHANED_RECORD"
	JournalMalformedPayload = "MALFORMED_PAYLOAD"
	JournalSendFailed       = "SEND_FAILED"
	JournalStaleReference   = "STALE_REFERENCE"
	JournalEventDropped     = "EVENT_DROPPED"
)
