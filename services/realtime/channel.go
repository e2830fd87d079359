package realtime

import (
	"context"
	"net/http"
	"sync"

	"astroconnect/models"
	"astroconnect/utils"

	"github.com/gorilla/websocket"
)

// Channel is the transport under the connection manager. Tests inject a
// fake; production uses the websocket implementation.
type Channel interface {
	Dial(ctx context.Context) error
	Send(env models.Envelope) error
	// Receive blocks until the next envelope or a transport failure.
	Receive() (models.Envelope, error)
	Close() error
}

// WebsocketChannel speaks JSON envelopes over a websocket. A single writer
// lock serializes outbound frames; reads happen from the manager's one
// reader goroutine.
type WebsocketChannel struct {
	url    string
	tokens utils.TokenProvider

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func NewWebsocketChannel(url string, tokens utils.TokenProvider) *WebsocketChannel {
	return &WebsocketChannel{url: url, tokens: tokens}
}

func (c *WebsocketChannel) Dial(ctx context.Context) error {
	token, err := c.tokens.Token()
	if err != nil || token == "" {
		return utils.AuthError("no bearer token for channel dial")
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return utils.TransportError("channel dial", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *WebsocketChannel) Send(env models.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return utils.TransportError("channel not connected", nil)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return utils.TransportError("channel write", err)
	}
	return nil
}

func (c *WebsocketChannel) Receive() (models.Envelope, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.Envelope{}, utils.TransportError("channel not connected", nil)
	}
	var env models.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return models.Envelope{}, utils.TransportError("channel read", err)
	}
	return env, nil
}

func (c *WebsocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
