package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"social_client/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func draftMessage(clientID, text string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             clientID,
		ClientID:       clientID,
		ConversationID: "conv-1",
		SenderID:       "me",
		RecipientID:    "u2",
		Text:           text,
		CreatedAt:      at,
		Status:         domain.StatusSending,
		Pending:        true,
		Attempt:        1,
		IDSource:       domain.IDLocal,
	}
}

func serverMessage(id, text string, at time.Time) *domain.Message {
	server := at
	return &domain.Message{
		ID:                id,
		ClientID:          id,
		SyntheticClientID: true,
		ConversationID:    "conv-1",
		SenderID:          "me",
		RecipientID:       "u2",
		Text:              text,
		CreatedAt:         at,
		ServerCreatedAt:   &server,
		Status:            domain.StatusSent,
		Aliases:           []string{id},
		IDSource:          domain.IDMigrated,
		Authoritative:     true,
	}
}

func TestMatcher_Same(t *testing.T) {
	m := NewMatcher(time.Minute)

	t.Run("equal real client ids", func(t *testing.T) {
		a := draftMessage("c1", "hi", t0)
		b := draftMessage("c1", "other text", t0.Add(time.Hour))
		assert.True(t, m.Same(a, b))
	})

	t.Run("shared backend alias across schemes", func(t *testing.T) {
		a := serverMessage("m-1", "hi", t0)
		a.Aliases = []string{"legacy-1", "m-1"}
		b := serverMessage("legacy-1", "hi", t0.Add(time.Hour))
		b.IDSource = domain.IDLegacy
		assert.True(t, m.Same(a, b))
	})

	t.Run("echo without shared id inside window", func(t *testing.T) {
		assert.True(t, m.Same(draftMessage("c1", "hello", t0), serverMessage("m-1", "hello", t0.Add(200*time.Millisecond))))
	})

	t.Run("echo outside window", func(t *testing.T) {
		assert.False(t, m.Same(draftMessage("c1", "hello", t0), serverMessage("m-1", "hello", t0.Add(2*time.Minute))))
	})

	t.Run("different text", func(t *testing.T) {
		assert.False(t, m.Same(draftMessage("c1", "hello", t0), serverMessage("m-1", "hello!", t0)))
	})

	t.Run("two stored messages with identical text stay distinct", func(t *testing.T) {
		assert.False(t, m.Same(serverMessage("m-1", "ok", t0), serverMessage("m-2", "ok", t0.Add(time.Second))))
	})

	t.Run("two drafts with identical text stay distinct", func(t *testing.T) {
		assert.False(t, m.Same(draftMessage("c1", "ok", t0), draftMessage("c2", "ok", t0)))
	})

	t.Run("different media", func(t *testing.T) {
		a := draftMessage("c1", "", t0)
		a.Media = &domain.Media{URL: "https://cdn/a.png", Kind: domain.MediaImage}
		b := serverMessage("m-1", "", t0)
		b.Media = &domain.Media{URL: "https://cdn/b.png", Kind: domain.MediaImage}
		assert.False(t, m.Same(a, b))
	})

	t.Run("conflicting conversations", func(t *testing.T) {
		b := serverMessage("m-1", "hello", t0)
		b.ConversationID = "conv-2"
		assert.False(t, m.Same(draftMessage("c1", "hello", t0), b))
	})
}

func TestMatcher_MergeDraftWithEcho(t *testing.T) {
	m := NewMatcher(time.Minute)
	draft := draftMessage("c1", "hello", t0)
	echo := serverMessage("m-1", "hello", t0.Add(200*time.Millisecond))

	merged := m.Merge(draft, echo)

	assert.Equal(t, "m-1", merged.ID)
	assert.Equal(t, "c1", merged.ClientID)
	assert.False(t, merged.SyntheticClientID)
	assert.Equal(t, domain.StatusSent, merged.Status)
	assert.False(t, merged.Pending)
	assert.True(t, merged.Authoritative)
	assert.Equal(t, t0, merged.CreatedAt)
	assert.Equal(t, []string{"m-1"}, merged.Aliases)
	require.NotNil(t, merged.ServerCreatedAt)
	assert.Equal(t, t0.Add(200*time.Millisecond), *merged.ServerCreatedAt)
}

func TestMatcher_MergeIsCommutativeAndIdempotent(t *testing.T) {
	m := NewMatcher(time.Minute)

	legacy := serverMessage("legacy-7", "hello", t0.Add(time.Second))
	legacy.IDSource = domain.IDLegacy
	legacy.Status = domain.StatusDelivered

	migrated := serverMessage("m-7", "hello", t0.Add(2*time.Second))
	migrated.Aliases = []string{"legacy-7", "m-7"}

	pairs := [][2]*domain.Message{
		{draftMessage("c1", "hello", t0), serverMessage("m-1", "hello", t0.Add(time.Second))},
		{legacy, migrated},
		{draftMessage("c1", "hello", t0), legacy},
	}
	for _, p := range pairs {
		ab := m.Merge(p[0], p[1])
		ba := m.Merge(p[1], p[0])
		assert.Equal(t, ab, ba)

		assert.Equal(t, ab, m.Merge(ab, ab))
		assert.Equal(t, ab, m.Merge(ab, p[0]))
		assert.Equal(t, ab, m.Merge(p[1], ab))
	}

	merged := m.Merge(legacy, migrated)
	assert.Equal(t, "m-7", merged.ID)
	assert.Equal(t, domain.IDMigrated, merged.IDSource)
	assert.Equal(t, []string{"legacy-7", "m-7"}, merged.Aliases)
	assert.Equal(t, domain.StatusDelivered, merged.Status)
}

func TestMatcher_MergeStatus(t *testing.T) {
	m := NewMatcher(time.Minute)

	t.Run("later attempt wins over failed", func(t *testing.T) {
		failed := draftMessage("c1", "hi", t0)
		failed.Status = domain.StatusFailed
		retried := draftMessage("c1", "hi", t0)
		retried.Attempt = 2

		merged := m.Merge(failed, retried)
		assert.Equal(t, domain.StatusSending, merged.Status)
		assert.Equal(t, 2, merged.Attempt)
		assert.True(t, merged.Pending)
	})

	t.Run("failed wins on the same attempt", func(t *testing.T) {
		failed := draftMessage("c1", "hi", t0)
		failed.Status = domain.StatusFailed
		assert.Equal(t, domain.StatusFailed, m.Merge(draftMessage("c1", "hi", t0), failed).Status)
	})

	t.Run("stored copy clears failed", func(t *testing.T) {
		failed := draftMessage("c1", "hi", t0)
		failed.Status = domain.StatusFailed
		assert.Equal(t, domain.StatusSent, m.Merge(failed, serverMessage("m-1", "hi", t0)).Status)
	})

	t.Run("read flag promotes status", func(t *testing.T) {
		read := serverMessage("m-1", "hi", t0)
		read.Read = true
		delivered := serverMessage("m-1", "hi", t0)
		delivered.Status = domain.StatusDelivered

		merged := m.Merge(read, delivered)
		assert.Equal(t, domain.StatusRead, merged.Status)
		assert.True(t, merged.Read)
	})

	t.Run("never moves backwards", func(t *testing.T) {
		read := serverMessage("m-1", "hi", t0)
		read.Status = domain.StatusRead
		assert.Equal(t, domain.StatusRead, m.Merge(read, serverMessage("m-1", "hi", t0)).Status)
	})
}

func TestMatcher_Best(t *testing.T) {
	m := NewMatcher(time.Minute)

	t.Run("prefers unconfirmed draft", func(t *testing.T) {
		candidates := []*domain.Message{
			draftMessage("c1", "hi", t0.Add(-10*time.Second)),
			draftMessage("c2", "hi", t0),
		}
		candidates[0].Status = domain.StatusFailed

		assert.Equal(t, 1, m.Best(candidates, serverMessage("m-1", "hi", t0.Add(-10*time.Second))))
	})

	t.Run("nearest in time", func(t *testing.T) {
		candidates := []*domain.Message{
			draftMessage("c1", "hi", t0),
			draftMessage("c2", "hi", t0.Add(20*time.Second)),
		}
		assert.Equal(t, 1, m.Best(candidates, serverMessage("m-1", "hi", t0.Add(19*time.Second))))
	})

	t.Run("exact id beats heuristic", func(t *testing.T) {
		stored := serverMessage("m-5", "hi", t0.Add(-5*time.Second))
		candidates := []*domain.Message{draftMessage("c1", "hi", t0), stored}

		update := serverMessage("m-5", "hi", t0.Add(-5*time.Second))
		update.Status = domain.StatusDelivered
		assert.Equal(t, 1, m.Best(candidates, update))
	})

	t.Run("no match", func(t *testing.T) {
		candidates := []*domain.Message{serverMessage("m-1", "hi", t0)}
		assert.Equal(t, -1, m.Best(candidates, serverMessage("m-2", "hi", t0)))
	})
}
