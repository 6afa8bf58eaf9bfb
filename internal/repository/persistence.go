package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

// PersistenceAPI - request/response API бэкенда. Ответы возвращаются сырыми:
// разбор обеих схем полей делает только нормализатор.
type PersistenceAPI interface {
	FetchConversations(ctx context.Context) ([]byte, error)
	FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]byte, error)
	CreateConversation(ctx context.Context, participantID string) ([]byte, error)
	SendMessage(ctx context.Context, req *SendMessageRequest) ([]byte, error)
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error
	MarkConversationRead(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// SendMessageRequest - тело создания сообщения
type SendMessageRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	RecipientID    string `json:"recipientId"`
	Text           string `json:"text"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	MediaType      string `json:"mediaType,omitempty"`
	ClientID       string `json:"clientId"`
}

type persistenceAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        logger.Logger
}

func NewPersistenceAPI(baseURL, token string, timeout time.Duration, log logger.Logger) PersistenceAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &persistenceAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimPrefix(token, "Bearer "),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *persistenceAPI) FetchConversations(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/conversations", nil)
}

func (c *persistenceAPI) FetchMessages(ctx context.Context, conversationID string, page, limit int) ([]byte, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + query.Encode()
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *persistenceAPI) CreateConversation(ctx context.Context, participantID string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/conversations", map[string]string{"participantId": participantID})
}

func (c *persistenceAPI) SendMessage(ctx context.Context, req *SendMessageRequest) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/messages", req)
}

func (c *persistenceAPI) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error {
	body := map[string]interface{}{
		"conversationId": conversationID,
		"messageIds":     messageIDs,
	}
	_, err := c.do(ctx, http.MethodPut, "/messages/read", body)
	return err
}

func (c *persistenceAPI) MarkConversationRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/read", nil)
	return err
}

func (c *persistenceAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil)
	return err
}

func (c *persistenceAPI) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("Backend returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return nil, apperrors.NewAPIError(fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, truncate(respBody, 256)), resp.StatusCode)
	}

	return respBody, nil
}

// transportError сводит сетевые ошибки к ErrTimeout / ErrTransport
func transportError(ctx context.Context, err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
