package domain

import (
	"time"
)

type Conversation struct {
	ID           string     `json:"id"`
	Participants []UserRef  `json:"participants"`
	LastMessage  *Message   `json:"last_message,omitempty"`
	UnreadCount  int        `json:"unread_count"`
	TypingUsers  []UserRef  `json:"typing_users"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	Aliases      []string   `json:"aliases,omitempty"`
}

// OtherParticipant возвращает собеседника относительно me.
// ok=false если собеседника определить нельзя.
func (c *Conversation) OtherParticipant(me string) (UserRef, bool) {
	for _, p := range c.Participants {
		if p.ID != "" && p.ID != me {
			return p, true
		}
	}
	return UserRef{}, false
}

// ActivityAt - время последней активности: lastMessage.createdAt или создание беседы
func (c *Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

func (c *Conversation) HasID(id string) bool {
	if id == "" {
		return false
	}
	if c.ID == id {
		return true
	}
	for _, a := range c.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Participants = cloneRefs(c.Participants)
	cp.TypingUsers = cloneRefs(c.TypingUsers)
	cp.LastMessage = c.LastMessage.Clone()
	cp.Aliases = append([]string(nil), c.Aliases...)
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		cp.UpdatedAt = &t
	}
	return &cp
}

func cloneRefs(refs []UserRef) []UserRef {
	if refs == nil {
		return []UserRef{}
	}
	out := make([]UserRef, len(refs))
	for i, r := range refs {
		out[i] = r
		if r.Profile != nil {
			p := *r.Profile
			out[i].Profile = &p
		}
	}
	return out
}
