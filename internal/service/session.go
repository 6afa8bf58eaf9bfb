package service

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	apperrors "social_client/pkg/errors"
)

var userIDClaims = []string{"sub", "user_id", "userId", "id", "_id"}

// ResolveUserID определяет текущего пользователя: явный id из конфигурации
// или claim из токена сессии. Подпись не проверяется - токен выдан бэкендом,
// клиент только читает из него свой идентификатор.
func ResolveUserID(explicit, token string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: no session token", apperrors.ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	for _, key := range userIDClaims {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", fmt.Errorf("%w: token has no user id claim", apperrors.ErrInvalidToken)
}
