// Package hub broadcasts headset records to websocket clients and accepts
// start/stop commands from them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/eegbuds/internal/collector"
	"github.com/srg/eegbuds/internal/output"
)

const (
	// DefaultClientBuffer is the number of frames queued per client before
	// frames are dropped for it.
	DefaultClientBuffer = 256

	writeTimeout = 5 * time.Second
)

// Command is what clients send: {"cmd":"start"} or {"cmd":"stop"}.
type Command struct {
	Cmd string `json:"cmd"`
}

// CommandFunc handles a client command. The returned error is sent back to
// that client as {"error":"..."}.
type CommandFunc func(ctx context.Context, cmd string) error

type client struct {
	send    chan []byte
	dropped int
}

// Hub fans out records to every connected client. A slow client loses
// frames instead of stalling the others.
type Hub struct {
	logger    *logrus.Logger
	onCommand CommandFunc
	bufSize   int

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(logger *logrus.Logger, onCommand CommandFunc) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger:    logger,
		onCommand: onCommand,
		bufSize:   DefaultClientBuffer,
		clients:   make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Write broadcasts a batch; it has the collector.WriteFunc signature.
func (h *Hub) Write(batch []collector.Record) error {
	for _, r := range batch {
		b, err := output.Marshal(r)
		if err != nil {
			return err
		}
		h.Broadcast(b)
	}
	return nil
}

// Broadcast queues payload for every client without blocking.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			c.dropped++
			if c.dropped == 1 {
				h.logger.Warn("Websocket client is too slow, dropping frames")
			}
		}
	}
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, h.bufSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the client until it goes away
// or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	c := h.register()
	defer h.unregister(c)
	h.logger.WithField("remote", r.RemoteAddr).Info("Websocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			h.logger.WithField("remote", r.RemoteAddr).Info("Websocket client disconnected")
			return
		case msg := <-c.send:
			if err := write(ctx, conn, msg); err != nil {
				h.logger.WithError(err).Debug("Websocket write failed")
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.WithError(err).Debug("Websocket read failed")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Cmd == "" {
			h.reply(ctx, conn, errors.New("expected {\"cmd\":\"start\"} or {\"cmd\":\"stop\"}"))
			continue
		}
		if h.onCommand == nil {
			h.reply(ctx, conn, errors.New("commands are not accepted"))
			continue
		}
		h.logger.WithField("cmd", cmd.Cmd).Info("Websocket command")
		h.reply(ctx, conn, h.onCommand(ctx, cmd.Cmd))
	}
}

func (h *Hub) reply(ctx context.Context, conn *websocket.Conn, err error) {
	resp := map[string]any{"ok": err == nil}
	if err != nil {
		resp["error"] = err.Error()
	}
	b, _ := json.Marshal(resp)
	if werr := write(ctx, conn, b); werr != nil {
		h.logger.WithError(werr).Debug("Websocket reply failed")
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}
