package service

import (
	"sort"

	"social_client/internal/domain"
)

// DeduplicateConversations оставляет по одной беседе на собеседника
// (самую недавно активную) и сортирует результат: свежие первыми.
// Группировка идет по идентификатору собеседника, а не по профилю,
// поэтому неразрешенные участники группируются так же.
// Повторный вызов на результате ничего не меняет.
func DeduplicateConversations(convs []*domain.Conversation, me string) []*domain.Conversation {
	best := make(map[string]*domain.Conversation, len(convs))
	for _, c := range convs {
		if c == nil {
			continue
		}
		other, ok := c.OtherParticipant(me)
		if !ok {
			continue
		}
		if cur, exists := best[other.ID]; !exists || moreRecent(c, cur) {
			best[other.ID] = c
		}
	}

	out := make([]*domain.Conversation, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sortConversations(out)
	return out
}

// moreRecent - порядок "свежие первыми", при равенстве по id
func moreRecent(a, b *domain.Conversation) bool {
	ta, tb := a.ActivityAt(), b.ActivityAt()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.ID < b.ID
}

func sortConversations(convs []*domain.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return moreRecent(convs[i], convs[j])
	})
}
