package domain

// UserProfile - данные для отображения, приходят из API профилей
type UserProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UserRef - участник беседы: либо голый идентификатор, либо с профилем
type UserRef struct {
	ID      string       `json:"id"`
	Profile *UserProfile `json:"profile,omitempty"`
}

func (u UserRef) Resolved() bool {
	return u.Profile != nil
}
