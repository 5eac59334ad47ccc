package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed channel names. Empty means receive everything.
	subMu sync.RWMutex
	subs  map[string]bool
}

// wsError is the server → client ERROR message.
type wsError struct {
	Type  string `json:"type"` // "ERROR"
	Error string `json:"error"`
}

// subscribeMsg is the client → server SUBSCRIBE / UNSUBSCRIBE request.
type subscribeMsg struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        json.RawMessage(entry.Data),
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain any queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var sub subscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				c.sendError("invalid SUBSCRIBE: " + err.Error())
				continue
			}
			c.handleSubscribe(sub.Channels)

		case "UNSUBSCRIBE":
			var sub subscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			c.handleUnsubscribe(sub.Channels)

		default:
			// Application-level ping
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// handleSubscribe narrows the client to the named channels and replays
// each channel's latest payload so late subscribers start with state.
func (c *Client) handleSubscribe(channels []string) {
	for _, ch := range channels {
		if !KnownChannel(ch) {
			c.sendError("unknown channel: " + ch)
			return
		}
	}

	c.subMu.Lock()
	for _, ch := range channels {
		c.subs[ch] = true
	}
	c.subMu.Unlock()

	log.Printf("[gateway] ws client subscribed: %v", channels)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, ch := range channels {
		entry, ok := c.hub.latest[ch]
		if !ok {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     ch,
			"data":        json.RawMessage(entry.Data),
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) handleUnsubscribe(channels []string) {
	c.subMu.Lock()
	for _, ch := range channels {
		delete(c.subs, ch)
	}
	c.subMu.Unlock()

	log.Printf("[gateway] ws client unsubscribed: %v", channels)
}

// matchesChannel reports whether this client should receive a message on
// the given channel. Clients with no explicit subscriptions receive all.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	return c.subs[channel]
}

// sendJSON marshals and queues a message, dropping it if the client's
// send buffer is full.
func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] json marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Println("[gateway] client send buffer full, dropping message")
	}
}

func (c *Client) sendError(msg string) {
	c.sendJSON(wsError{Type: "ERROR", Error: msg})
}
