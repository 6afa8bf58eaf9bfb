package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

const (
	pushWriteWait  = 10 * time.Second
	pushPongWait   = 60 * time.Second
	pushPingPeriod = (pushPongWait * 9) / 10
)

// PushChannel - двунаправленный push-канал (websocket).
// Кадры: {"event": name, "data": payload}.
type PushChannel interface {
	// Emit отправляет событие. Best-effort: без соединения возвращает ErrNotConnected.
	Emit(ctx context.Context, event string, payload interface{}) error
	// Run держит соединение и передает входящие кадры в handler,
	// переподключается с задержкой из backoff. Возвращается при отмене ctx.
	Run(ctx context.Context, handler func(frame []byte)) error
	// OnConnect регистрирует колбэк на каждое (пере)подключение
	OnConnect(fn func())
	Connected() bool
	Close() error
}

type pushFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type pushChannel struct {
	url     string
	token   string
	dialer  *websocket.Dialer
	backoff func(attempt int) time.Duration
	log     logger.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	onConnect []func()
}

func NewPushChannel(url, token string, backoff func(attempt int) time.Duration, log logger.Logger) PushChannel {
	if backoff == nil {
		backoff = func(int) time.Duration { return time.Second }
	}
	return &pushChannel{
		url:   url,
		token: strings.TrimPrefix(token, "Bearer "),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		backoff: backoff,
		log:     log,
	}
}

func (p *pushChannel) OnConnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = append(p.onConnect, fn)
}

func (p *pushChannel) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *pushChannel) Emit(ctx context.Context, event string, payload interface{}) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return apperrors.ErrNotConnected
	}

	data, err := json.Marshal(pushFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal push frame: %w", err)
	}

	deadline := time.Now().Add(pushWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
	}
	return nil
}

func (p *pushChannel) Run(ctx context.Context, handler func(frame []byte)) error {
	attempt := 0
	for {
		header := http.Header{}
		if p.token != "" {
			header.Set("Authorization", "Bearer "+p.token)
		}

		conn, _, err := p.dialer.DialContext(ctx, p.url, header)
		if err == nil {
			attempt = 0
			p.log.Info("Push channel connected", "url", p.url)
			p.setConn(conn)
			p.fireOnConnect()

			err = p.readLoop(ctx, conn, handler)
			p.setConn(nil)
			conn.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		delay := p.backoff(attempt)
		p.log.Warn("Push channel disconnected, reconnecting", "error", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (p *pushChannel) readLoop(ctx context.Context, conn *websocket.Conn, handler func(frame []byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(pushPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pushPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pushPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// разблокирует ReadMessage
				p.writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				p.writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				p.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pushWriteWait))
				p.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handler(frame)
	}
}

func (p *pushChannel) setConn(conn *websocket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
}

func (p *pushChannel) fireOnConnect() {
	p.mu.Lock()
	hooks := append([]func(){}, p.onConnect...)
	p.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (p *pushChannel) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
