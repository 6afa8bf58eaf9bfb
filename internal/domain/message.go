package domain

import (
	"time"
)

type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Rank задает порядок sending < sent < delivered < read.
// failed стоит рядом с sending: это ответвление, а не шаг вперед.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSending, StatusFailed:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

func (s DeliveryStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanTransition - таблица переходов статуса доставки.
// Назад двигаться нельзя; failed достижим только из sending,
// а из failed можно вернуться только в sending (повторная попытка).
func CanTransition(from, to DeliveryStatus) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	switch {
	case to == StatusFailed:
		return from == StatusSending
	case from == StatusFailed:
		return to == StatusSending
	case to == StatusSending:
		return false
	default:
		return to.Rank() > from.Rank()
	}
}

// IDSource - откуда взят canonicalId. Старший источник побеждает при слиянии.
type IDSource int

const (
	IDLocal IDSource = iota
	IDLegacy
	IDMigrated
)

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Media struct {
	URL  string    `json:"url"`
	Kind MediaKind `json:"kind"`
}

type Message struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	SenderID        string         `json:"sender_id"`
	RecipientID     string         `json:"recipient_id"`
	Text            string         `json:"text"`
	Media           *Media         `json:"media,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	ServerCreatedAt *time.Time     `json:"server_created_at,omitempty"`
	Status          DeliveryStatus `json:"delivery_status"`
	Read            bool           `json:"read"`
	Pending         bool           `json:"pending"`
	ClientID        string         `json:"client_id"`
	Attempt         int            `json:"attempt"`

	// Все идентификаторы бэкенда (обе схемы), под которыми встречалось это сообщение
	Aliases           []string `json:"aliases,omitempty"`
	IDSource          IDSource `json:"-"`
	SyntheticClientID bool     `json:"-"`
	Authoritative     bool     `json:"-"`
}

// Outgoing - сообщение отправлено текущим пользователем
func (m *Message) Outgoing(me string) bool {
	return m.SenderID != "" && m.SenderID == me
}

// HasID проверяет, известен ли сообщению идентификатор id (canonical, alias или clientId)
func (m *Message) HasID(id string) bool {
	if id == "" {
		return false
	}
	if m.ID == id || m.ClientID == id {
		return true
	}
	for _, a := range m.Aliases {
		if a == id {
			return true
		}
	}
	return false
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Media != nil {
		media := *m.Media
		c.Media = &media
	}
	if m.ServerCreatedAt != nil {
		t := *m.ServerCreatedAt
		c.ServerCreatedAt = &t
	}
	c.Aliases = append([]string(nil), m.Aliases...)
	return &c
}

// Before - порядок отображения: по createdAt, при равенстве по id
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	if m.ID != other.ID {
		return m.ID < other.ID
	}
	return m.ClientID < other.ClientID
}
