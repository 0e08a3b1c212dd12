// Package web implements the channel capability over WebSocket: each
// browser session is one external conversation exchanging JSON frames.
package web

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"axon/pkg/api"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// Config holds the listener settings for one web channel instance.
type Config struct {
	Port int `json:"port"` // Default: 9453
}

// incomingFrame is the JSON shape a browser client sends.
type incomingFrame struct {
	Text   string `json:"text"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // Base64 encoded
	} `json:"images"`
}

// safeConn serializes writes; gorilla connections allow one writer at a time.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// Web is the WebSocket implementation of the channel capability. Each
// accepted connection gets a session id used as the external channel id,
// so replies route back to the exact socket that asked.
type Web struct {
	config Config
	server *http.Server
	events chan api.InboundMessage

	mu       sync.RWMutex
	sessions map[string]*safeConn // session id -> connection
	handlers sync.WaitGroup
	done     chan struct{}
}

// New returns a disconnected web channel. The listener starts on Connect.
func New(cfg Config) *Web {
	if cfg.Port <= 0 {
		cfg.Port = 9453
	}
	return &Web{
		config:   cfg,
		sessions: make(map[string]*safeConn),
	}
}

// Connect starts the HTTP listener serving /ws upgrades.
func (c *Web) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return nil // already connected
	}

	c.events = make(chan api.InboundMessage, 64)
	c.done = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", c.handleWebSocket)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web channel listening", "port", c.config.Port)

	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web channel server error", "error", err)
		}
	}(c.server)

	return nil
}

// Disconnect closes the listener and every live session, waits for the
// session read loops to drain, then closes the event stream.
func (c *Web) Disconnect(_ context.Context) error {
	c.mu.Lock()
	if c.server == nil {
		c.mu.Unlock()
		return nil
	}
	err := c.server.Close()
	c.server = nil
	close(c.done)
	for id, conn := range c.sessions {
		conn.Close()
		delete(c.sessions, id)
	}
	events := c.events
	c.mu.Unlock()

	c.handlers.Wait()
	close(events)
	return err
}

// Shutdown tears down the listener.
func (c *Web) Shutdown(ctx context.Context) error {
	return c.Disconnect(ctx)
}

// Events returns the inbound stream. Valid after Connect.
func (c *Web) Events() <-chan api.InboundMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events
}

// Send delivers one reply frame to the session named by the external
// channel id. Attachments with inline data are base64-encoded into the
// frame; URL attachments pass the URL through.
func (c *Web) Send(_ context.Context, msg api.OutboundMessage) error {
	conn, err := c.session(msg.ExternalChannelID)
	if err != nil {
		return err
	}

	frame := map[string]any{
		"type": "message",
		"text": msg.Content,
	}
	if len(msg.Attachments) > 0 {
		var images []map[string]string
		for _, att := range msg.Attachments {
			img := map[string]string{"name": att.Filename, "mime": att.MimeType}
			if len(att.Data) > 0 {
				img["data"] = base64.StdEncoding.EncodeToString(att.Data)
			} else if att.URL != "" {
				img["url"] = att.URL
			}
			images = append(images, img)
		}
		frame["images"] = images
	}
	return conn.writeJSON(frame)
}

// SendTyping pushes a typing signal frame so the UI can render an
// activity indicator.
func (c *Web) SendTyping(_ context.Context, externalChannelID string) error {
	conn, err := c.session(externalChannelID)
	if err != nil {
		return err
	}
	return conn.writeJSON(map[string]string{"type": "typing"})
}

func (c *Web) session(id string) (*safeConn, error) {
	c.mu.RLock()
	conn, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("web session %s not connected: %w", id, api.ErrNotFound)
	}
	return conn, nil
}

func (c *Web) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS upgrade failed", "error", err)
		return
	}

	conn := &safeConn{Conn: rawConn}
	sessionID := uuid.NewString()

	c.mu.Lock()
	if c.server == nil { // lost the race against Disconnect
		c.mu.Unlock()
		rawConn.Close()
		return
	}
	c.sessions[sessionID] = conn
	events, done := c.events, c.done
	c.handlers.Add(1)
	c.mu.Unlock()
	defer c.handlers.Done()

	// Tell the client its session id so it can correlate frames.
	if err := conn.writeJSON(map[string]string{"type": "session", "id": sessionID}); err != nil {
		slog.Error("Failed to send session frame", "error", err)
	}

	defer func() {
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		msg := api.InboundMessage{
			ExternalChannelID: sessionID,
			UserID:            sessionID,
			Username:          "WebUser",
		}

		// JSON frames may carry images; anything unparsable is plain text.
		var frame incomingFrame
		if err := json.Unmarshal(msgBytes, &frame); err == nil {
			msg.Content = frame.Text
			for _, img := range frame.Images {
				data, err := base64.StdEncoding.DecodeString(img.Data)
				if err != nil {
					slog.Error("Failed to decode base64 image", "name", img.Name, "error", err)
					continue
				}
				msg.Images = append(msg.Images, api.ImageAttachment{MimeType: img.Mime, Data: data})
			}
		} else {
			msg.Content = string(msgBytes)
		}

		select {
		case events <- msg:
		case <-done:
			return
		}
	}
}
