package service

import (
	"sort"
	"time"

	"social_client/internal/domain"
)

// DefaultMatchWindow - окно эвристики "тот же текст и отправитель"
const DefaultMatchWindow = 60 * time.Second

// Matcher решает, описывают ли две записи одно логическое сообщение,
// и сливает их. Merge коммутативен и идемпотентен.
type Matcher struct {
	Window time.Duration
}

func NewMatcher(window time.Duration) Matcher {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return Matcher{Window: window}
}

// Same - совпадение по clientId, по идентификатору бэкенда (с учетом
// алиасов обеих схем) или по тексту/отправителю в пределах окна.
func (m Matcher) Same(a, b *domain.Message) bool {
	if a == nil || b == nil {
		return false
	}
	if realClientID(a) && realClientID(b) && a.ClientID == b.ClientID {
		return true
	}
	if sharesBackendID(a, b) {
		return true
	}
	return m.sameContent(a, b)
}

// sameContent - только пока общего идентификатора нет: две записи, у которых
// уже есть разные id бэкенда или разные настоящие clientId, - разные сообщения
func (m Matcher) sameContent(a, b *domain.Message) bool {
	if a.Authoritative && b.Authoritative {
		return false
	}
	if realClientID(a) && realClientID(b) {
		return false
	}
	if a.SenderID == "" || a.SenderID != b.SenderID || a.Text != b.Text {
		return false
	}
	if mediaURL(a) != mediaURL(b) {
		return false
	}
	if a.ConversationID != "" && b.ConversationID != "" && a.ConversationID != b.ConversationID {
		return false
	}
	return absDuration(a.CreatedAt.Sub(b.CreatedAt)) <= m.window()
}

func (m Matcher) window() time.Duration {
	if m.Window <= 0 {
		return DefaultMatchWindow
	}
	return m.Window
}

// Best выбирает среди кандидатов тот, с которым сливать msg:
// сначала еще не подтвержденный (sending), затем ближайший по времени.
// -1 если совпадений нет.
func (m Matcher) Best(candidates []*domain.Message, msg *domain.Message) int {
	best := -1
	for i, c := range candidates {
		if !m.Same(c, msg) {
			continue
		}
		if best < 0 || betterCandidate(c, candidates[best], msg) {
			best = i
		}
	}
	return best
}

func betterCandidate(c, current, msg *domain.Message) bool {
	// точное совпадение идентификатора всегда важнее эвристики
	ce, cure := exactMatch(c, msg), exactMatch(current, msg)
	if ce != cure {
		return ce
	}
	cs, curs := c.Status == domain.StatusSending, current.Status == domain.StatusSending
	if cs != curs {
		return cs
	}
	cd, curd := absDuration(c.CreatedAt.Sub(msg.CreatedAt)), absDuration(current.CreatedAt.Sub(msg.CreatedAt))
	if cd != curd {
		return cd < curd
	}
	return c.Before(current)
}

func exactMatch(a, b *domain.Message) bool {
	return (realClientID(a) && realClientID(b) && a.ClientID == b.ClientID) || sharesBackendID(a, b)
}

// Merge сливает две записи одного сообщения.
// Идентичность берется у более авторитетной стороны, статус и read
// продвигаются до максимального, createdAt не сдвигается вперед,
// чтобы подтверждение не переставляло сообщения в ленте.
func (m Matcher) Merge(a, b *domain.Message) *domain.Message {
	if a == nil {
		return b.Clone()
	}
	if b == nil {
		return a.Clone()
	}
	primary, secondary := a, b
	if preferred(b, a) {
		primary, secondary = b, a
	}

	out := primary.Clone()
	if out.ConversationID == "" {
		out.ConversationID = secondary.ConversationID
	}
	if out.SenderID == "" {
		out.SenderID = secondary.SenderID
	}
	if out.RecipientID == "" {
		out.RecipientID = secondary.RecipientID
	}
	if out.Text == "" {
		out.Text = secondary.Text
	}
	if out.Media == nil && secondary.Media != nil {
		media := *secondary.Media
		out.Media = &media
	}

	out.Aliases = unionSorted(a.Aliases, b.Aliases)
	if out.IDSource == domain.IDLocal {
		out.Aliases = nil
	}
	out.ClientID, out.SyntheticClientID = mergeClientID(a, b)
	out.Authoritative = a.Authoritative || b.Authoritative
	if !out.Authoritative {
		// обе стороны локальные: id совпадает с clientId
		out.ID = out.ClientID
	}

	out.CreatedAt = minTime(a.CreatedAt, b.CreatedAt)
	out.ServerCreatedAt = mergeServerTime(a, b)

	out.Status = mergeStatus(a, b)
	out.Read = a.Read || b.Read || out.Status == domain.StatusRead
	if out.Read && out.Status.Rank() >= domain.StatusSent.Rank() {
		out.Status = domain.StatusRead
	}
	out.Pending = out.Status == domain.StatusSending
	if a.Attempt > b.Attempt {
		out.Attempt = a.Attempt
	} else {
		out.Attempt = b.Attempt
	}
	return out
}

// preferred - должна ли запись x задавать идентичность вместо y
func preferred(x, y *domain.Message) bool {
	if x.Authoritative != y.Authoritative {
		return x.Authoritative
	}
	if x.IDSource != y.IDSource {
		return x.IDSource > y.IDSource
	}
	if x.ID != y.ID {
		return x.ID < y.ID
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.Text < y.Text
}

func mergeClientID(a, b *domain.Message) (string, bool) {
	ar, br := realClientID(a), realClientID(b)
	switch {
	case ar && !br:
		return a.ClientID, false
	case br && !ar:
		return b.ClientID, false
	case a.ClientID == "":
		return b.ClientID, b.SyntheticClientID
	case b.ClientID == "":
		return a.ClientID, a.SyntheticClientID
	case a.ClientID <= b.ClientID:
		return a.ClientID, a.SyntheticClientID
	default:
		return b.ClientID, b.SyntheticClientID
	}
}

func mergeStatus(a, b *domain.Message) domain.DeliveryStatus {
	sa, sb := a.Status, b.Status
	if !sa.Valid() {
		sa = domain.StatusSending
	}
	if !sb.Valid() {
		sb = domain.StatusSending
	}

	var out domain.DeliveryStatus
	switch {
	case sa.Rank() > sb.Rank():
		out = sa
	case sb.Rank() > sa.Rank():
		out = sb
	case sa == sb:
		out = sa
	default:
		// sending против failed: решает более поздняя попытка,
		// при равных попытках - failed (его нельзя потерять молча)
		switch {
		case a.Attempt > b.Attempt:
			out = sa
		case b.Attempt > a.Attempt:
			out = sb
		default:
			out = domain.StatusFailed
		}
	}

	// есть авторитетная копия - сообщение сохранено, failed/sending снимаются
	if (a.Authoritative || b.Authoritative) && out.Rank() < domain.StatusSent.Rank() {
		out = domain.StatusSent
	}
	return out
}

func mergeServerTime(a, b *domain.Message) *time.Time {
	var out *time.Time
	for _, t := range []*time.Time{a.ServerCreatedAt, b.ServerCreatedAt} {
		if t == nil {
			continue
		}
		if out == nil || t.Before(*out) {
			v := *t
			out = &v
		}
	}
	return out
}

func realClientID(m *domain.Message) bool {
	return m.ClientID != "" && !m.SyntheticClientID
}

func sharesBackendID(a, b *domain.Message) bool {
	for _, id := range backendIDs(a) {
		for _, other := range backendIDs(b) {
			if id == other {
				return true
			}
		}
	}
	return false
}

func backendIDs(m *domain.Message) []string {
	if !m.Authoritative {
		return nil
	}
	if len(m.Aliases) == 0 && m.ID != "" {
		return []string{m.ID}
	}
	return m.Aliases
}

func mediaURL(m *domain.Message) string {
	if m.Media == nil {
		return ""
	}
	return m.Media.URL
}

func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

func minTime(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
