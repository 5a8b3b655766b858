package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
	requestBuffer  = 16
)

// viewerConn is one viewer's websocket. readPump feeds decoded requests to
// the handler; writePump is the only writer to the socket.
type viewerConn struct {
	id   ViewerID
	ws   *websocket.Conn
	log  *slog.Logger
	send chan Message

	done      chan struct{}
	closeOnce sync.Once
}

func newViewerConn(id ViewerID, ws *websocket.Conn, log *slog.Logger) *viewerConn {
	return &viewerConn{
		id:   id,
		ws:   ws,
		log:  log,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *viewerConn) ID() ViewerID { return c.id }

// Send implements Client. It drops the message if the connection is closed
// or its buffer is full.
func (c *viewerConn) Send(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *viewerConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump decodes requests until the socket fails. It never waits on the
// dispatcher: a viewer that outruns its queue is disconnected. On return it
// cancels the viewer's in-flight request and closes requests.
func (c *viewerConn) readPump(cancel context.CancelFunc, requests chan<- Request) {
	defer close(requests)
	defer cancel()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Event == "" {
			c.log.Debug("undecodable message dropped", slog.Int("bytes", len(data)))
			continue
		}
		select {
		case requests <- req:
		case <-c.done:
			return
		default:
			c.log.Warn("request queue full, closing viewer", slog.String("event", req.Event))
			return
		}
	}
}

func (c *viewerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.drain()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes what was queued before close.
func (c *viewerConn) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
