package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// first возвращает первое непустое поле из keys
func first(r gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		v := r.Get(key)
		if v.Exists() && v.Type != gjson.Null && v.Raw != `""` {
			return v
		}
	}
	return gjson.Result{}
}

// ref извлекает идентификатор из строки, числа или вложенного объекта
func ref(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.String())
	case gjson.Number:
		return v.Raw
	case gjson.JSON:
		if v.IsObject() {
			return ref(first(v, userIDKeys...))
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.Number:
		return fromEpoch(v.Int()), true
	case gjson.String:
		s := strings.TrimSpace(v.String())
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n), true
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// числа больше 1e12 считаются миллисекундами
func fromEpoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

func listItems(r gjson.Result, keys ...string) []gjson.Result {
	if r.IsArray() {
		return r.Array()
	}
	for _, key := range keys {
		if v := r.Get(key); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}
