package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"social_client/internal/domain"
	"social_client/pkg/logger"
)

func TestJournalService(t *testing.T) {
	repo := &memoryJournal{}
	sched := newManualScheduler()
	journal := NewJournalService(repo, sched, logger.Discard())

	require.NoError(t, journal.Record(context.Background(), domain.JournalSendFailed, "conv-1", "c-1", "timeout", nil))

	journal.Note(domain.JournalStaleReference, "conv-2", "", "message_delivered")
	assert.Len(t, repo.entries, 1, "note is written in background")
	sched.RunPending()

	entries, err := journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.JournalSendFailed, entries[0].Kind)
	assert.Equal(t, "c-1", entries[0].MessageRef)
	assert.NotNil(t, entries[0].Payload)
	assert.Equal(t, sched.Now(), entries[1].EventTime)
	assert.Equal(t, "conv-2", entries[1].ConversationID)
}
