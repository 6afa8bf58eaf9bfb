package repository

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

type recordedRequest struct {
	method string
	uri    string
	auth   string
	body   string
}

type backend struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (b *backend) recorded() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedRequest(nil), b.requests...)
}

func newBackend(t *testing.T, status int, reply string) (*httptest.Server, *backend) {
	t.Helper()
	b := &backend{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			method: r.Method,
			uri:    r.URL.RequestURI(),
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		b.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, b
}

func TestPersistenceAPI_Requests(t *testing.T) {
	srv, b := newBackend(t, http.StatusOK, `{"ok":true}`)
	api := NewPersistenceAPI(srv.URL+"/", "Bearer secret", time.Second, logger.Discard())
	ctx := context.Background()

	body, err := api.FetchConversations(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, err = api.FetchMessages(ctx, "conv 1", 2, 50)
	require.NoError(t, err)
	_, err = api.CreateConversation(ctx, "u2")
	require.NoError(t, err)
	require.NoError(t, api.MarkMessagesRead(ctx, "conv-1", []string{"m-1", "m-2"}))
	require.NoError(t, api.MarkConversationRead(ctx, "conv-1"))
	require.NoError(t, api.DeleteConversation(ctx, "conv-1"))

	got := b.recorded()
	require.Len(t, got, 6)

	assert.Equal(t, recordedRequest{method: http.MethodGet, uri: "/conversations", auth: "Bearer secret"}, got[0])
	assert.Equal(t, "/conversations/conv%201/messages?limit=50&page=2", got[1].uri)

	assert.Equal(t, http.MethodPost, got[2].method)
	assert.JSONEq(t, `{"participantId":"u2"}`, got[2].body)

	assert.Equal(t, http.MethodPut, got[3].method)
	assert.Equal(t, "/messages/read", got[3].uri)
	assert.JSONEq(t, `{"conversationId":"conv-1","messageIds":["m-1","m-2"]}`, got[3].body)

	assert.Equal(t, "/conversations/conv-1/read", got[4].uri)
	assert.Equal(t, http.MethodDelete, got[5].method)
	assert.Equal(t, "/conversations/conv-1", got[5].uri)
}

func TestPersistenceAPI_SendMessageBody(t *testing.T) {
	srv, b := newBackend(t, http.StatusCreated, `{"message":{"_id":"m-1"}}`)
	api := NewPersistenceAPI(srv.URL, "", time.Second, logger.Discard())

	_, err := api.SendMessage(context.Background(), &SendMessageRequest{
		ConversationID: "conv-1",
		RecipientID:    "u2",
		Text:           "hello",
		ClientID:       "c-1",
	})
	require.NoError(t, err)

	got := b.recorded()[0]
	assert.Empty(t, got.auth)
	assert.Equal(t, "/messages", got.uri)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(got.body), &sent))
	assert.Equal(t, map[string]interface{}{
		"conversationId": "conv-1",
		"recipientId":    "u2",
		"text":           "hello",
		"clientId":       "c-1",
	}, sent)
}

func TestPersistenceAPI_ErrorStatus(t *testing.T) {
	srv, _ := newBackend(t, http.StatusServiceUnavailable, `down`)
	api := NewPersistenceAPI(srv.URL, "t", time.Second, logger.Discard())

	_, err := api.FetchConversations(context.Background())
	require.Error(t, err)

	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
	assert.ErrorIs(t, err, apperrors.ErrTransport)
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatusFromError(err))
}

func TestPersistenceAPI_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	api := NewPersistenceAPI(srv.URL, "", 50*time.Millisecond, logger.Discard())
	_, err := api.FetchConversations(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestPersistenceAPI_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	api := NewPersistenceAPI(url, "", time.Second, logger.Discard())
	_, err := api.FetchConversations(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTransport)
}

func TestEnrichmentAPI_FetchUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/u2":
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"user":{"_id":"u2"}}`))
		case "/users/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	api := NewEnrichmentAPI(srv.URL, "secret", time.Second, logger.Discard())
	ctx := context.Background()

	body, err := api.FetchUser(ctx, "u2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":{"_id":"u2"}}`, string(body))

	_, err = api.FetchUser(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = api.FetchUser(ctx, "broken")
	assert.ErrorIs(t, err, apperrors.ErrTransport)
}
