package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"social_client/internal/domain"
)

func conversation(id, other string, activity time.Time) *domain.Conversation {
	return &domain.Conversation{
		ID:           id,
		Participants: []domain.UserRef{{ID: "me"}, {ID: other}},
		CreatedAt:    activity.Add(-time.Hour),
		LastMessage: &domain.Message{
			ID:             id + "-last",
			ConversationID: id,
			SenderID:       other,
			CreatedAt:      activity,
		},
	}
}

func TestDeduplicateConversations_KeepsMostRecent(t *testing.T) {
	t1 := t0
	t2 := t0.Add(time.Minute)

	out := DeduplicateConversations([]*domain.Conversation{
		conversation("old", "u3", t1),
		conversation("new", "u3", t2),
	}, "me")

	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].ID)
}

func TestDeduplicateConversations_SortsAndIsIdempotent(t *testing.T) {
	withoutMessages := &domain.Conversation{
		ID:           "empty",
		Participants: []domain.UserRef{{ID: "me"}, {ID: "u4", Profile: &domain.UserProfile{ID: "u4", Name: "Four"}}},
		CreatedAt:    t0.Add(30 * time.Second),
	}
	input := []*domain.Conversation{
		conversation("a", "u2", t0),
		conversation("b", "u3", t0.Add(time.Minute)),
		conversation("c", "u2", t0.Add(-time.Minute)),
		withoutMessages,
		{ID: "self", Participants: []domain.UserRef{{ID: "me"}}},
		nil,
	}

	out := DeduplicateConversations(input, "me")
	ids := make([]string, 0, len(out))
	for _, c := range out {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"b", "empty", "a"}, ids)

	assert.Equal(t, out, DeduplicateConversations(out, "me"))
}

func TestDeduplicateConversations_TieBreaksByID(t *testing.T) {
	out := DeduplicateConversations([]*domain.Conversation{
		conversation("z", "u2", t0),
		conversation("y", "u2", t0),
	}, "me")

	require.Len(t, out, 1)
	assert.Equal(t, "y", out[0].ID)
}
