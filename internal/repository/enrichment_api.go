package repository

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

// EnrichmentAPI - API профилей: идентификатор -> сырая запись пользователя
type EnrichmentAPI interface {
	FetchUser(ctx context.Context, userID string) ([]byte, error)
}

type enrichmentAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logger.Logger
}

func NewEnrichmentAPI(baseURL, token string, timeout time.Duration, log logger.Logger) EnrichmentAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &enrichmentAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimPrefix(token, "Bearer "),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *enrichmentAPI) FetchUser(ctx context.Context, userID string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewAPIError(fmt.Sprintf("profile service returned status %d", resp.StatusCode), resp.StatusCode)
	}
	return body, nil
}
